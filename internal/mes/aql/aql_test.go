package aql

import (
	"errors"
	"testing"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/policy"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(policy.Default())
}

func TestSampleForBoundaries(t *testing.T) {
	e := newEngine(t)
	tests := []struct {
		batch int
		code  string
		size  int
	}{
		{1, "L", 200},
		{2, "A", 2},
		{8, "A", 2},
		{9, "B", 3},
		{15, "B", 3},
		{16, "C", 5},
		{25, "C", 5},
		{26, "D", 8},
		{50, "D", 8},
		{51, "E", 13},
		{90, "E", 13},
		{91, "F", 20},
		{150, "F", 20},
		{151, "G", 32},
		{280, "G", 32},
		{281, "H", 50},
		{500, "H", 50},
		{501, "J", 80},
		{1200, "J", 80},
		{1201, "K", 125},
		{3200, "K", 125},
		{3201, "L", 200},
		{10000, "L", 200},
		{500000, "L", 200},
	}
	for _, tt := range tests {
		s := e.SampleFor(tt.batch)
		if s.Code != tt.code || s.Size != tt.size {
			t.Fatalf("batch %d: got %s/%d, want %s/%d", tt.batch, s.Code, s.Size, tt.code, tt.size)
		}
	}
}

func TestEvaluateBatchBelowSmallestRange(t *testing.T) {
	e := newEngine(t)
	j, err := e.Evaluate(1, 2, "1.0")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// 单件批量不在任何区间，按最大字码 L 判定，L 行无 1.0 取默认 Ac=1/Re=2
	if j.Code != "L" || j.Size != 200 || j.Ac != 1 || j.Re != 2 || j.Result != Fail {
		t.Fatalf("expected L/200/Ac1/Re2 fail, got %+v", j)
	}
	if j, _ := e.Evaluate(2, 2, "1.0"); j.Code != "A" || j.Result != Pass {
		t.Fatalf("batch 2 is the first tabulated size, got %+v", j)
	}
}

func TestLimitsTable(t *testing.T) {
	e := newEngine(t)
	tests := []struct {
		code, level string
		ac, re      int
	}{
		{"A", "0.65", 1, 2},
		{"B", "1.5", 3, 4},
		{"C", "1.0", 2, 3},
		{"E", "2.5", 5, 6},
		{"F", "0.40", 1, 2},
		{"G", "2.5", 7, 8},
		{"H", "0.25", 1, 2},
		{"H", "2.5", 10, 11},
		{"J", "0.15", 1, 2},
		{"J", "1.5", 10, 11},
		// 表中缺失的组合
		{"A", "2.5", 1, 2},
		{"K", "1.0", 1, 2},
		{"L", "0.65", 1, 2},
		{"J", "2.5", 1, 2},
	}
	for _, tt := range tests {
		ar := e.Limits(tt.code, tt.level)
		if ar.Ac != tt.ac || ar.Re != tt.re {
			t.Fatalf("%s/%s: got Ac=%d Re=%d, want Ac=%d Re=%d", tt.code, tt.level, ar.Ac, ar.Re, tt.ac, tt.re)
		}
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := newEngine(t)
	first, err := e.Evaluate(100, 2, "1.0")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, err := e.Evaluate(100, 2, "1.0")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical judgments, got %+v and %+v", first, second)
	}
	if first.Code != "F" || first.Size != 20 || first.Ac != 3 || first.Re != 4 || first.Result != Pass {
		t.Fatalf("unexpected judgment %+v", first)
	}
}

func TestEvaluatePassFailAtAcceptanceNumber(t *testing.T) {
	e := newEngine(t)
	pass, err := e.Evaluate(20, 2, "1.0")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if pass.Code != "C" || pass.Ac != 2 || pass.Re != 3 || pass.Result != Pass {
		t.Fatalf("expected C/Ac=2/Re=3 pass, got %+v", pass)
	}
	fail, err := e.Evaluate(20, 3, "1.0")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fail.Result != Fail {
		t.Fatalf("expected fail, got %+v", fail)
	}
}

func TestEvaluateNormalizesLevel(t *testing.T) {
	e := newEngine(t)
	for _, in := range []string{"1", "1.0", "1.00", " 1.0 "} {
		j, err := e.Evaluate(20, 0, in)
		if err != nil {
			t.Fatalf("level %q: %v", in, err)
		}
		if j.Level != "1.0" {
			t.Fatalf("level %q normalized to %q", in, j.Level)
		}
	}
	j, err := e.Evaluate(600, 0, "0.1")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if j.Level != "0.10" {
		t.Fatalf("expected 0.10, got %q", j.Level)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	e := newEngine(t)
	if _, err := e.Evaluate(20, 0, "4.0"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unknown level, got %v", err)
	}
	if _, err := e.Evaluate(0, 0, "1.0"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for zero batch, got %v", err)
	}
	if _, err := e.Evaluate(20, -1, "1.0"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for negative defective, got %v", err)
	}
}
