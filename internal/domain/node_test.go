package domain

import "testing"

func TestNodeStatusString(t *testing.T) {
	cases := map[NodeStatus]string{
		StatusError:       "error",
		StatusUnknown:     "unknown",
		StatusStandby:     "standby",
		StatusStopped:     "stopped",
		StatusUnavailable: "unavailable",
		StatusActive:      "active",
		NodeStatus(99):    "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("NodeStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestNodeIDEmpty(t *testing.T) {
	if !NodeID("").Empty() {
		t.Error("zero value NodeID must be Empty")
	}
	if NodeID("abc").Empty() {
		t.Error("non-zero NodeID must not be Empty")
	}
}

func TestNodeRecordIsStandalone(t *testing.T) {
	if !(NodeRecord{}).IsStandalone() {
		t.Error("record with empty name must be standalone")
	}
	if (NodeRecord{Name: "node-a"}).IsStandalone() {
		t.Error("record with a name must not be standalone")
	}
}

func TestNewNodeIDUniqueAndLength(t *testing.T) {
	a := NewNodeID()
	b := NewNodeID()
	if a == b {
		t.Fatal("expected two distinct generated IDs")
	}
	if len(a) < 25 {
		t.Fatalf("NodeID length = %d, want at least 25", len(a))
	}
}
