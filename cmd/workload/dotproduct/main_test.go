package main

import "testing"

func TestPartialDotProduct(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{4, 5, 6}
	got := partialDotProduct(a, b)
	want := float64(1*4 + 2*5 + 3*6)
	if got != want {
		t.Errorf("partialDotProduct = %v, want %v", got, want)
	}
}

func TestDeterministicVectorsAreReproducible(t *testing.T) {
	a1, b1 := deterministicVectors(2, 5)
	a2, b2 := deterministicVectors(2, 5)
	for i := range a1 {
		if a1[i] != a2[i] || b1[i] != b2[i] {
			t.Fatalf("vectors not reproducible at index %d", i)
		}
	}
}
