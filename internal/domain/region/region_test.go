package region

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		wantErr bool
	}{
		{"named", "invoice_number", false},
		{"empty", "", true},
		{"blank", "   ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(FieldRegion{Field: tt.field})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.field, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrEmptyField) {
				t.Errorf("expected ErrEmptyField, got %v", err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	r := New("total", 0.1, 0.2, 0.3, 0.4)
	if r.Confidence != DefaultConfidence || r.SampleCount != DefaultSampleCount {
		t.Errorf("expected fresh observation defaults, got %+v", r)
	}
}

func TestDedupe(t *testing.T) {
	in := []FieldRegion{
		{Field: "a", Left: 1},
		{Field: "b", Left: 2},
		{Field: "a", Left: 3},
	}
	out := Dedupe(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(out))
	}
	if out[0].Field != "a" || out[0].Left != 3 {
		t.Errorf("expected last value at first position, got %+v", out[0])
	}
	if out[1].Field != "b" {
		t.Errorf("expected b second, got %+v", out[1])
	}
}

func TestIndex(t *testing.T) {
	idx := Index([]FieldRegion{{Field: "a", Top: 1}, {Field: "a", Top: 2}, {Field: "b"}})
	if len(idx) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(idx))
	}
	if idx["a"].Top != 2 {
		t.Errorf("expected later duplicate to win, got %v", idx["a"].Top)
	}
}
