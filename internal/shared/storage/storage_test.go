package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/config"
)

func TestObjectName(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	name := ObjectName("/inspections/INS-F01-FQC-20240305-001/", "Report.PDF", now)
	if !strings.HasPrefix(name, "inspections/INS-F01-FQC-20240305-001/2024/03/") {
		t.Fatalf("unexpected prefix %q", name)
	}
	if !strings.HasSuffix(name, ".pdf") {
		t.Fatalf("expected lower-cased extension, got %q", name)
	}
}

func TestNewMinIOStoreDisabled(t *testing.T) {
	s, err := NewMinIOStore(config.MinIOConfig{})
	if err != nil || s != nil {
		t.Fatalf("expected nil store without endpoint, got %v, %v", s, err)
	}
}
