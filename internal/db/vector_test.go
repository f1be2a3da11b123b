package db

import "testing"

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	blob := EncodeVector(in)
	if len(blob) != 12 {
		t.Fatalf("expected 12 bytes, got %d", len(blob))
	}

	out, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("component %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeVector_BadLength(t *testing.T) {
	if _, err := DecodeVector("abc"); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}
