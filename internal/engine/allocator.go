package engine

import (
	"crypto/sha256"
	"encoding/binary"
)

// bucketFor maps (experimentID, subjectKey) onto [0,100) deterministically.
// The digest depends only on its inputs, so the same subject lands in the
// same bucket across processes and restarts.
func bucketFor(experimentID, subjectKey string) float64 {
	h := sha256.New()
	h.Write([]byte(experimentID))
	h.Write([]byte(subjectKey))
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v%10000) / 100.0
}

// chooseVariant walks variants in their stored order (sorted by code)
// accumulating allocation percentages, returning the first variant whose
// cumulative allocation reaches the bucket value. Falls back to the last
// variant so rounding drift in the percentages can never strand a subject.
func chooseVariant(variants []Variant, bucket float64) Variant {
	cumulative := 0.0
	for _, v := range variants {
		cumulative += v.AllocationPct
		if cumulative >= bucket {
			return v
		}
	}
	return variants[len(variants)-1]
}
