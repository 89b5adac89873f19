package diffexpr

import (
	"math"
	"sort"

	"godiffex/domain/expression"

	"github.com/montanaflynn/stats"
)

// addLogOdds fills the B column: the posterior log-odds that a feature's
// contrast is non-zero, under a mixture prior in which a fraction
// cfg.Proportion of features have effects drawn from N(0, v₀·σ²).
func (m *Moderator) addLogOdds(out []expression.ModeratedStatistic, raw []RawContrast, prior Prior) {
	scale := prior.Var
	if prior.State == ShrinkageNone || math.IsNaN(scale) {
		// without a fitted prior, the typical residual variance stands in for s₀²
		s2 := make([]float64, 0, len(raw))
		for _, r := range raw {
			if r.Status == expression.FitOK && !math.IsNaN(r.S2) {
				s2 = append(s2, r.S2)
			}
		}
		scale, _ = stats.Median(s2)
	}
	if scale <= 0 || math.IsNaN(scale) {
		return
	}

	lim := [2]float64{
		m.cfg.StdevCoefLim[0] * m.cfg.StdevCoefLim[0] / scale,
		m.cfg.StdevCoefLim[1] * m.cfg.StdevCoefLim[1] / scale,
	}
	varPrior := m.mixtureVariance(out, raw, lim)
	if math.IsNaN(varPrior) {
		varPrior = 1 / scale
		m.log.Debug("mixture variance not estimable; using 1/var_prior = %.6g", varPrior)
	}

	p := m.cfg.Proportion
	logPrior := math.Log(p / (1 - p))
	largeDF := prior.DF > 1e6

	for i := range out {
		s := &out[i]
		if s.Status != expression.FitOK || math.IsNaN(s.T) {
			continue
		}
		v := raw[i].Unscaled
		r := (v + varPrior) / v
		t2 := s.T * s.T

		var kernel float64
		if largeDF || math.IsInf(s.DFTotal, 1) {
			kernel = t2 * (1 - 1/r) / 2
		} else {
			d := s.DFTotal
			kernel = (1 + d) / 2 * math.Log((t2+d)/(t2/r+d))
		}
		s.B = logPrior - math.Log(r)/2 + kernel
	}
}

type mixtureCandidate struct {
	t        float64
	unscaled float64
}

// mixtureVariance estimates the prior variance v₀ of non-zero effects from the
// most extreme moderated t-statistics. Returns NaN when too few features exist.
func (m *Moderator) mixtureVariance(out []expression.ModeratedStatistic, raw []RawContrast, lim [2]float64) float64 {
	var (
		cands []mixtureCandidate
		maxDF float64
	)
	for i, s := range out {
		if s.Status != expression.FitOK || math.IsNaN(s.T) {
			continue
		}
		cands = append(cands, mixtureCandidate{t: math.Abs(s.T), unscaled: raw[i].Unscaled})
		maxDF = math.Max(maxDF, s.DFTotal)
	}

	n := len(cands)
	ntarget := int(math.Ceil(m.cfg.Proportion / 2 * float64(n)))
	if ntarget < 1 {
		return math.NaN()
	}
	p := math.Max(float64(ntarget)/float64(n), m.cfg.Proportion)

	// put every statistic on the same reference distribution
	ref := studentsT(maxDF)
	k := 0
	for _, s := range out {
		if s.Status != expression.FitOK || math.IsNaN(s.T) {
			continue
		}
		if s.DFTotal < maxDF {
			tail := studentsT(s.DFTotal).Survival(cands[k].t)
			if tail > 0 {
				cands[k].t = upperQuantile(ref, tail)
			}
		}
		k++
	}

	sort.SliceStable(cands, func(a, b int) bool { return cands[a].t > cands[b].t })
	cands = cands[:ntarget]

	v0 := make([]float64, ntarget)
	for r, c := range cands {
		p0 := 2 * ref.Survival(c.t)
		ptarget := ((float64(r)+0.5)/float64(n) - (1-p)*p0) / p
		if ptarget > p0 {
			q := upperQuantile(ref, ptarget/2)
			v0[r] = c.unscaled * ((c.t/q)*(c.t/q) - 1)
		}
		v0[r] = math.Min(math.Max(v0[r], lim[0]), lim[1])
	}

	mean, err := stats.Mean(v0)
	if err != nil {
		return math.NaN()
	}
	return mean
}
