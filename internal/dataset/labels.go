// Package dataset prepares an in-memory expression dataset for analysis:
// it assigns samples to groups from a sample sheet and drops samples that end
// up without a group.
package dataset

import (
	"fmt"
	"strings"

	"godiffex/domain/core"
	"godiffex/domain/expression"
)

// Rule assigns Label to any sample whose source text contains Pattern,
// ignoring case.
type Rule struct {
	Pattern string
	Label   string
}

// AssignByRules labels each value with the first rule whose pattern it
// contains. Values matching no rule get an empty label.
func AssignByRules(values []string, rules []Rule) []string {
	lowered := make([]string, len(rules))
	for i, r := range rules {
		lowered[i] = strings.ToLower(r.Pattern)
	}

	labels := make([]string, len(values))
	for i, v := range values {
		v = strings.ToLower(v)
		for k, r := range rules {
			if strings.Contains(v, lowered[k]) {
				labels[i] = r.Label
				break
			}
		}
	}
	return labels
}

// AlignLabels maps labels given per sheet sample onto the matrix's sample
// order. Matrix samples absent from the sheet get an empty label.
func AlignLabels(matrixSamples []string, sheet *expression.SampleSheet, labels []string) ([]string, error) {
	if len(labels) != len(sheet.IDs) {
		return nil, core.NewDimensionError("sample sheet labels", len(labels), len(sheet.IDs))
	}

	byID := make(map[string]string, len(sheet.IDs))
	for i, id := range sheet.IDs {
		if _, dup := byID[id]; dup {
			return nil, core.NewInvalidInputError(fmt.Sprintf("sample %q appears twice in the sample sheet", id))
		}
		byID[id] = labels[i]
	}

	out := make([]string, len(matrixSamples))
	for j, id := range matrixSamples {
		out[j] = byID[id]
	}
	return out, nil
}

// Selection is the outcome of dropping unlabeled samples.
type Selection struct {
	Matrix  *expression.Matrix
	Labels  []string
	Dropped []string
	Counts  map[string]int
}

// KeepLabeled returns m restricted to samples with a non-empty label, keeping
// their order.
func KeepLabeled(m *expression.Matrix, labels []string) (*Selection, error) {
	if len(labels) != m.Samples() {
		return nil, core.NewDimensionError("group labels", len(labels), m.Samples())
	}

	sel := &Selection{Counts: make(map[string]int)}
	keep := make([]int, 0, len(labels))
	for j, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			sel.Dropped = append(sel.Dropped, m.SampleIDs[j])
			continue
		}
		keep = append(keep, j)
		sel.Labels = append(sel.Labels, label)
		sel.Counts[label]++
	}

	if len(sel.Dropped) == 0 {
		sel.Matrix = m
	} else {
		sel.Matrix = m.SelectSamples(keep)
	}
	return sel, nil
}
