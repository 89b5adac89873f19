package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// InputHash fingerprints the inputs of an analysis run
type InputHash Hash

func (h InputHash) String() string { return Hash(h).String() }

// ComputeInputHash hashes feature ids, sample ids, group labels and the raw bit
// patterns of the intensities, so that two runs over identical inputs share a
// fingerprint regardless of how the values were formatted on disk.
func ComputeInputHash(featureIDs, sampleIDs, labels []string, values []float64) InputHash {
	h := sha256.New()
	writeStrings := func(tag byte, ss []string) {
		h.Write([]byte{tag})
		for _, s := range ss {
			h.Write([]byte(s))
			h.Write([]byte{0})
		}
	}
	writeStrings('f', featureIDs)
	writeStrings('s', sampleIDs)
	writeStrings('g', labels)

	h.Write([]byte{'v'})
	var buf [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return InputHash(hex.EncodeToString(h.Sum(nil)))
}
