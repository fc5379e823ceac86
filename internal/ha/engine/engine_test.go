package engine

import (
	"testing"
	"time"

	"github.com/sentramon/server/internal/domain"
)

func TestShouldReapStandbyBoundary(t *testing.T) {
	failoverDelay := time.Minute
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	n := domain.NodeRecord{Status: domain.StatusStandby, LastAccess: base}

	if ShouldReapStandby(n, base.Add(failoverDelay), failoverDelay) {
		t.Fatal("exact boundary must NOT reap")
	}
	if !ShouldReapStandby(n, base.Add(failoverDelay).Add(time.Nanosecond), failoverDelay) {
		t.Fatal("strictly past the boundary must reap")
	}
	if ShouldReapStandby(n, base.Add(failoverDelay).Add(-time.Nanosecond), failoverDelay) {
		t.Fatal("strictly before the boundary must not reap")
	}
}

func TestShouldReapStandbySkipsOtherStatuses(t *testing.T) {
	failoverDelay := time.Minute
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := domain.NodeRecord{Status: domain.StatusActive, LastAccess: base}

	if ShouldReapStandby(n, base.Add(time.Hour), failoverDelay) {
		t.Fatal("active nodes are never reaped by the standby reaper")
	}
}

func TestShouldSelfDemote(t *testing.T) {
	failoverDelay := 60 * time.Second
	pollPeriod := 5 * time.Second // threshold = 12

	if ShouldSelfDemote(12, failoverDelay, pollPeriod) {
		t.Fatal("exactly at threshold must not yet demote")
	}
	if !ShouldSelfDemote(13, failoverDelay, pollPeriod) {
		t.Fatal("past threshold must demote")
	}
}

func TestObserveTracksNewPeer(t *testing.T) {
	pollPeriod := 5 * time.Second
	failoverDelay := 60 * time.Second
	peer := domain.NodeRecord{NodeID: "peer", LastAccess: time.Now()}

	state, promote := Observe(ActivePeerState{}, peer, true, pollPeriod, failoverDelay)
	if promote {
		t.Fatal("must not promote on first observation of a fresh peer")
	}
	if !state.HasLastAccessActive || state.OfflineTicksActive != 0 {
		t.Fatalf("unexpected state after first observation: %+v", state)
	}
}

func TestObservePromotesAfterMargin(t *testing.T) {
	pollPeriod := 5 * time.Second
	failoverDelay := 10 * time.Second // threshold = 2 + 1 = 3
	peer := domain.NodeRecord{NodeID: "peer", LastAccess: time.Unix(1000, 0)}

	// The first observation only records lastaccess; the next four are
	// stale ticks, and the fourth (4 > 3) triggers promotion.
	state := ActivePeerState{}
	var promote bool
	for i := 0; i < 5; i++ {
		state, promote = Observe(state, peer, true, pollPeriod, failoverDelay)
		if promote {
			break
		}
	}
	if !promote {
		t.Fatal("expected promotion once the stale peer exceeds the anti-flap margin")
	}
}

func TestObserveResetsOnFreshLastAccess(t *testing.T) {
	pollPeriod := 5 * time.Second
	failoverDelay := 10 * time.Second
	peer := domain.NodeRecord{NodeID: "peer", LastAccess: time.Unix(1000, 0)}

	state, _ := Observe(ActivePeerState{}, peer, true, pollPeriod, failoverDelay)
	state, _ = Observe(state, peer, true, pollPeriod, failoverDelay)
	if state.OfflineTicksActive != 1 {
		t.Fatalf("expected one offline tick, got %d", state.OfflineTicksActive)
	}

	peer.LastAccess = time.Unix(2000, 0)
	state, promote := Observe(state, peer, true, pollPeriod, failoverDelay)
	if promote || state.OfflineTicksActive != 0 {
		t.Fatalf("fresh lastaccess must reset the offline counter, got %+v promote=%v", state, promote)
	}
}

func TestFindActiveSkipsSelf(t *testing.T) {
	nodes := []domain.NodeRecord{
		{NodeID: "self", Status: domain.StatusActive},
		{NodeID: "peer", Status: domain.StatusStandby},
	}
	if _, found := FindActive(nodes, "self"); found {
		t.Fatal("must not report self as the active peer")
	}
}

func TestValidateStandalone(t *testing.T) {
	if ok, _ := ValidateStandalone(nil); !ok {
		t.Fatal("no rows is valid for standalone")
	}
	if ok, _ := ValidateStandalone([]domain.NodeRecord{{Status: domain.StatusStopped}}); !ok {
		t.Fatal("a single STOPPED row is valid for standalone")
	}
	if ok, _ := ValidateStandalone([]domain.NodeRecord{{Status: domain.StatusStopped}, {Status: domain.StatusStopped}}); !ok {
		t.Fatal("multiple STOPPED rows must be allowed, matching the original")
	}
	ok, status := ValidateStandalone([]domain.NodeRecord{{Name: "", Status: domain.StatusActive}})
	if ok {
		t.Fatal("a single non-STOPPED row must fail standalone validation even though len(nodes)==1")
	}
	if status != domain.StatusActive {
		t.Fatalf("expected offending status StatusActive, got %v", status)
	}
}

func TestValidateCluster(t *testing.T) {
	if ok, _, _ := ValidateCluster(nil, "node-a"); !ok {
		t.Fatal("no rows is valid for cluster registration")
	}
	if ok, _, _ := ValidateCluster([]domain.NodeRecord{{Name: "node-b", Status: domain.StatusStandby}}, "node-a"); !ok {
		t.Fatal("an unrelated stopped/standby peer must not block registration")
	}

	ok, offending, standaloneConflict := ValidateCluster(
		[]domain.NodeRecord{{Name: "", Status: domain.StatusActive}}, "node-a")
	if ok || !standaloneConflict {
		t.Fatalf("an active standalone row must fail cluster registration as a mode mismatch, got ok=%v conflict=%v", ok, standaloneConflict)
	}
	if offending.Status != domain.StatusActive {
		t.Fatalf("expected offending row to be the active standalone row, got %+v", offending)
	}

	ok, offending, standaloneConflict = ValidateCluster(
		[]domain.NodeRecord{{Name: "node-a", Status: domain.StatusActive}}, "node-a")
	if ok || standaloneConflict {
		t.Fatalf("a duplicate-name row in a non-stopped status must fail registration, got ok=%v conflict=%v", ok, standaloneConflict)
	}
	if offending.Name != "node-a" {
		t.Fatalf("expected offending row to be the duplicate-name row, got %+v", offending)
	}

	ok, _, _ = ValidateCluster([]domain.NodeRecord{{Name: "node-a", Status: domain.StatusStopped}}, "node-a")
	if !ok {
		t.Fatal("a STOPPED row with our own name must be allowed (re-registration after shutdown)")
	}
}
