// Package engine holds the pure decision logic of HA election: no I/O,
// no database, no clocks other than the values passed in. This keeps
// the bug-prone timing arithmetic testable without a live Postgres.
package engine

import (
	"time"

	"github.com/sentramon/server/internal/domain"
)

// ActivePeerState tracks how long some other node has been seen
// reporting StatusActive with a stale lastaccess, across successive
// control-loop ticks. The zero value means "no active peer observed
// yet".
type ActivePeerState struct {
	HasLastAccessActive bool
	LastAccessActive    time.Time
	OfflineTicksActive  int
}

// FindByName returns the node in nodes whose Name matches, if any.
func FindByName(nodes []domain.NodeRecord, name string) (domain.NodeRecord, bool) {
	for _, n := range nodes {
		if n.Name == name {
			return n, true
		}
	}
	return domain.NodeRecord{}, false
}

// FindActive returns the first node (other than self) currently
// recorded as StatusActive.
func FindActive(nodes []domain.NodeRecord, selfID domain.NodeID) (domain.NodeRecord, bool) {
	for _, n := range nodes {
		if n.NodeID != selfID && n.Status == domain.StatusActive {
			return n, true
		}
	}
	return domain.NodeRecord{}, false
}

// ShouldReapStandby reports whether a standby/unavailable peer's
// lastaccess has fallen far enough behind dbNow to be marked
// unavailable. The comparison is strict: a peer whose
// lastaccess+failoverDelay exactly equals dbNow is NOT reaped, only
// one strictly older is (spec §4.C testable properties).
func ShouldReapStandby(n domain.NodeRecord, dbNow time.Time, failoverDelay time.Duration) bool {
	if n.Status != domain.StatusStandby && n.Status != domain.StatusUnavailable {
		return false
	}
	return dbNow.Sub(n.LastAccess) > failoverDelay
}

// ShouldSelfDemote reports whether this node, currently ACTIVE but
// unable to reach the database for offlineTicks consecutive polls,
// must demote itself to STANDBY (spec §4.C, self-demotion branch).
func ShouldSelfDemote(offlineTicks int, failoverDelay, pollPeriod time.Duration) bool {
	threshold := int(failoverDelay / pollPeriod)
	return offlineTicks > threshold
}

// promotionMargin is the extra tick beyond the raw failover_delay
// window before this node promotes itself over a peer that still
// holds StatusActive but has gone stale. It exists purely to avoid two
// nodes flapping into ACTIVE within the same window (spec §4.C,
// "anti-flap margin").
const promotionMargin = 1

// Observe folds one tick's view of the active peer into the running
// ActivePeerState, returning the updated state and whether this node
// should now promote itself to ACTIVE in its place.
func Observe(state ActivePeerState, active domain.NodeRecord, activeSeen bool, pollPeriod, failoverDelay time.Duration) (ActivePeerState, bool) {
	if !activeSeen {
		return ActivePeerState{}, false
	}

	if !state.HasLastAccessActive || !active.LastAccess.Equal(state.LastAccessActive) {
		return ActivePeerState{
			HasLastAccessActive: true,
			LastAccessActive:    active.LastAccess,
			OfflineTicksActive:  0,
		}, false
	}

	state.OfflineTicksActive++
	threshold := int(failoverDelay/pollPeriod) + promotionMargin
	return state, state.OfflineTicksActive > threshold
}

// ValidateStandalone checks that a standalone deployment (no ha_name
// configured) holds only rows left STOPPED by a previous run - any
// other status on any row means a cluster (or crashed standalone) node
// is already registered, which must fail registration outright rather
// than be silently adopted (spec §4.B, scenario 5). Returns the
// offending row's status when validation fails.
func ValidateStandalone(nodes []domain.NodeRecord) (bool, domain.NodeStatus) {
	for _, n := range nodes {
		if n.Status != domain.StatusStopped {
			return false, n.Status
		}
	}
	return true, domain.StatusStopped
}

// ValidateCluster checks the locked node snapshot for the two
// conditions that must fail cluster registration before this node is
// ever adopted into it (spec §4.B step 3): an existing standalone row
// (empty name) left in a non-STOPPED status, or another row already
// using this node's name while not STOPPED. Returns the offending row
// and whether the violated rule was the standalone-row rule (true) or
// the duplicate-name rule (false).
func ValidateCluster(nodes []domain.NodeRecord, selfName string) (ok bool, offending domain.NodeRecord, standaloneConflict bool) {
	for _, n := range nodes {
		if n.IsStandalone() && n.Status != domain.StatusStopped {
			return false, n, true
		}
	}
	for _, n := range nodes {
		if n.Name == selfName && n.Status != domain.StatusStopped {
			return false, n, false
		}
	}
	return true, domain.NodeRecord{}, false
}
