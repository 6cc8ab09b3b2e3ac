package deephash

import "testing"

func TestComputeDeterministic(t *testing.T) {
	item := DataItem{
		Data:   []byte("hello world"),
		Tags:   []Tag{{Name: "Action", Value: "Eval"}},
		Target: "proc-1",
		Anchor: "anchor-1",
	}
	a, err := Compute(item)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute(item)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatalf("expected deterministic output, got %q != %q", a, b)
	}
	if a == "" {
		t.Fatal("expected non-empty digest")
	}
}

func TestComputeSensitiveToContent(t *testing.T) {
	base := DataItem{Data: []byte("a"), Target: "t", Anchor: "x"}
	other := DataItem{Data: []byte("b"), Target: "t", Anchor: "x"}

	h1, err := Compute(base)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Compute(other)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("expected different digests for different data")
	}
}

func TestComputeRejectsEmptyTagName(t *testing.T) {
	_, err := Compute(DataItem{Tags: []Tag{{Name: "", Value: "v"}}})
	if err == nil {
		t.Fatal("expected error for empty tag name")
	}
}

func TestComputeIgnoresOwnerSignature(t *testing.T) {
	// The zero-owner convention means the digest must not depend on any
	// real signing key; two items differing only in a hypothetical
	// signature (which this package never accepts as input) must already
	// be indistinguishable by construction. This test instead asserts that
	// identical (data, tags, target, anchor) always yields the same hash
	// regardless of call order/timing.
	item := DataItem{Data: []byte("x"), Target: "t", Anchor: "a"}
	first, _ := Compute(item)
	for i := 0; i < 5; i++ {
		again, err := Compute(item)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("non-deterministic digest on iteration %d", i)
		}
	}
}
