package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
)

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	if len(p.SampleSizeCodes) != 11 {
		t.Fatalf("expected 11 code ranges, got %d", len(p.SampleSizeCodes))
	}
	if p.AmendmentWindow != 24*time.Hour {
		t.Fatalf("expected 24h amendment window, got %s", p.AmendmentWindow)
	}
	if p.SplitMinRatio.String() != "0.5" {
		t.Fatalf("expected split ratio 0.5, got %s", p.SplitMinRatio)
	}
	if p.Escalation.MajorMinQty != 5 || p.Escalation.AnalysisMinQty != 3 {
		t.Fatalf("unexpected escalation thresholds %+v", p.Escalation)
	}
	if p.Acceptance["H"]["2.5"] != (AcRe{Ac: 10, Re: 11}) {
		t.Fatalf("unexpected H/2.5: %+v", p.Acceptance["H"]["2.5"])
	}
	if p.DefaultInspectionLevel != domain.LevelGeneralII {
		t.Fatalf("unexpected default inspection level %s", p.DefaultInspectionLevel)
	}
}

func TestCanonicalLevel(t *testing.T) {
	p := Default()
	tests := map[string]string{
		"0.1":  "0.10",
		"0.65": "0.65",
		"1":    "1.0",
		"2.50": "2.5",
	}
	for in, want := range tests {
		got, ok := p.CanonicalLevel(in)
		if !ok || got != want {
			t.Fatalf("CanonicalLevel(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := p.CanonicalLevel("0.3"); ok {
		t.Fatal("0.3 is not a tabulated AQL level")
	}
}

func TestDefectTypeFor(t *testing.T) {
	p := Default()
	if got := p.DefectTypeFor(""); got != domain.DefectOther {
		t.Fatalf("empty category -> %s", got)
	}
	if got := p.DefectTypeFor("Visual"); got != domain.DefectAppearance {
		t.Fatalf("visual -> %s", got)
	}
	if got := p.DefectTypeFor("process"); got != domain.DefectProcess {
		t.Fatalf("process -> %s", got)
	}
	if got := p.DefectTypeFor("smell"); got != domain.DefectOther {
		t.Fatalf("unknown -> %s", got)
	}
}

func TestLoadOverrideFile(t *testing.T) {
	data := strings.Replace(string(defaultYAML), "amendment_window: 24h", "amendment_window: 12h", 1)
	data = strings.Replace(data, "major_min_qty: 5", "major_min_qty: 10", 1)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.AmendmentWindow != 12*time.Hour || p.Escalation.MajorMinQty != 10 {
		t.Fatalf("override not applied: window=%s major=%d", p.AmendmentWindow, p.Escalation.MajorMinQty)
	}
}

func TestParseRejectsOverlappingRanges(t *testing.T) {
	data := strings.Replace(string(defaultYAML), "{ min: 9, max: 15, code: B }", "{ min: 8, max: 15, code: B }", 1)
	if _, err := Parse([]byte(data)); err == nil {
		t.Fatal("expected overlap error")
	}
}
