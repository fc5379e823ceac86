package report

import (
	"testing"
	"time"

	"github.com/sentramon/server/internal/domain"
	"github.com/sentramon/server/internal/ha/controlchannel"
)

func TestBuildSnapshot(t *testing.T) {
	dbNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entries := []controlchannel.ReportEntry{
		{NodeID: "a", Name: "node-a", Status: domain.StatusActive, Address: "10.0.0.1", Port: 10051, LastAccessAge: 5 * time.Second},
	}

	got := BuildSnapshot(entries, dbNow)
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	row := got[0]
	if row.Status != "active" {
		t.Errorf("status = %q, want active", row.Status)
	}
	if row.Address != "10.0.0.1:10051" {
		t.Errorf("address = %q", row.Address)
	}
	if !row.LastAccess.Equal(dbNow.Add(-5 * time.Second)) {
		t.Errorf("lastaccess = %v, want %v", row.LastAccess, dbNow.Add(-5*time.Second))
	}
}

func TestHumanAge(t *testing.T) {
	if got := humanAge(30 * time.Second); got != "30s ago" {
		t.Errorf("humanAge(30s) = %q", got)
	}
	if got := humanAge(90 * time.Second); got != "1m30s ago" {
		t.Errorf("humanAge(90s) = %q", got)
	}
}
