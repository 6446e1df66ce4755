package engine

import (
	"fmt"
	"math"
	"testing"
)

func TestBucketForDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		first := bucketFor("exp-1", subject)
		second := bucketFor("exp-1", subject)
		if first != second {
			t.Fatalf("bucket for %s changed between calls: %v vs %v", subject, first, second)
		}
		if first < 0 || first >= 100 {
			t.Fatalf("bucket %v out of [0,100)", first)
		}
	}
}

func TestBucketForVariesByExperiment(t *testing.T) {
	// The same subject should land in different buckets across experiments
	// often enough that experiments are independent. A handful of collisions
	// is expected; identical mapping everywhere is not.
	same := 0
	for i := 0; i < 1000; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		if bucketFor("exp-a", subject) == bucketFor("exp-b", subject) {
			same++
		}
	}
	if same > 50 {
		t.Fatalf("experiments share %d/1000 bucket mappings, expected near-independence", same)
	}
}

func TestChooseVariantRespectsOrder(t *testing.T) {
	variants := []Variant{
		{Code: "A", AllocationPct: 50},
		{Code: "B", AllocationPct: 50},
	}
	if got := chooseVariant(variants, 10); got.Code != "A" {
		t.Fatalf("bucket 10 should select A, got %s", got.Code)
	}
	if got := chooseVariant(variants, 75); got.Code != "B" {
		t.Fatalf("bucket 75 should select B, got %s", got.Code)
	}
	// Rounding drift in allocations must never strand a subject.
	drifted := []Variant{
		{Code: "A", AllocationPct: 33.33},
		{Code: "B", AllocationPct: 33.33},
		{Code: "C", AllocationPct: 33.33},
	}
	if got := chooseVariant(drifted, 99.99); got.Code != "C" {
		t.Fatalf("drifted allocations should fall back to the last variant, got %s", got.Code)
	}
}

func TestAllocationConvergence(t *testing.T) {
	variants := []Variant{
		{Code: "A", AllocationPct: 50},
		{Code: "B", AllocationPct: 50},
	}
	const subjects = 100000
	counts := map[string]int{}
	for i := 0; i < subjects; i++ {
		v := chooseVariant(variants, bucketFor("exp-convergence", fmt.Sprintf("subject-%06d", i)))
		counts[v.Code]++
	}
	for code, count := range counts {
		share := float64(count) / float64(subjects)
		if math.Abs(share-0.5) > 0.02 {
			t.Fatalf("variant %s share %v deviates more than 2%% from 50%%", code, share)
		}
	}
}

func TestAllocationConvergenceUnevenSplit(t *testing.T) {
	variants := []Variant{
		{Code: "A", AllocationPct: 80},
		{Code: "B", AllocationPct: 20},
	}
	const subjects = 100000
	hits := 0
	for i := 0; i < subjects; i++ {
		v := chooseVariant(variants, bucketFor("exp-uneven", fmt.Sprintf("subject-%06d", i)))
		if v.Code == "B" {
			hits++
		}
	}
	share := float64(hits) / float64(subjects)
	if math.Abs(share-0.2) > 0.02 {
		t.Fatalf("variant B share %v deviates more than 2%% from 20%%", share)
	}
}
