package encoding

import (
	"errors"
	"testing"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]byte, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 0, 8, 8, 8)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc, 0)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_UniformFieldIsShort(t *testing.T) {
	in := make([]byte, 2500)
	for i := range in {
		in[i] = 3
	}
	enc := EncodeRLE(in)
	if len(enc) > 8 {
		t.Fatalf("encoded uniform field too long: %q", enc)
	}
	out, err := DecodeRLE(enc, 2500)
	if err != nil || len(out) != 2500 {
		t.Fatalf("DecodeRLE: len=%d err=%v", len(out), err)
	}
}

func TestRLE_Limit(t *testing.T) {
	enc := EncodeRLE(make([]byte, 100))
	if _, err := DecodeRLE(enc, 99); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if _, err := DecodeRLE("!!", 0); err == nil {
		t.Fatalf("expected base64 error")
	}
}
