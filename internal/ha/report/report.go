// Package report formats HA node registry snapshots, as received in the
// control channel's REPORT_NODES reply, into JSON rows for the HTTP
// status surface and into fixed-column log lines (spec §4.E).
package report

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sentramon/server/internal/ha/controlchannel"
)

// NodeReport is one row of a formatted snapshot, matching the JSON
// shape served to operators by the HTTP /ha/nodes endpoint.
type NodeReport struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Status        string        `json:"status"`
	LastAccess    time.Time     `json:"lastaccess"`
	Address       string        `json:"address"`
	DBTimestamp   time.Time     `json:"db_timestamp"`
	LastAccessAge time.Duration `json:"lastaccess_age"`
}

// BuildSnapshot converts raw control-channel report entries plus the
// database clock at fetch time into the public NodeReport shape.
func BuildSnapshot(entries []controlchannel.ReportEntry, dbNow time.Time) []NodeReport {
	out := make([]NodeReport, 0, len(entries))
	for _, e := range entries {
		out = append(out, NodeReport{
			ID:            string(e.NodeID),
			Name:          e.Name,
			Status:        e.Status.String(),
			LastAccess:    dbNow.Add(-e.LastAccessAge),
			Address:       fmt.Sprintf("%s:%d", e.Address, e.Port),
			DBTimestamp:   dbNow,
			LastAccessAge: e.LastAccessAge,
		})
	}
	return out
}

const (
	idWidth      = 25
	nameWidth    = 25
	addressWidth = 30
)

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width]
}

// LogTable writes one log line per node in a fixed-column layout,
// mirroring the `hareport` CLI style of the original implementation.
func LogTable(logger *zap.Logger, snapshot []NodeReport) {
	logger.Info("node report", zap.Int("count", len(snapshot)))
	for i, n := range snapshot {
		logger.Info(fmt.Sprintf(
			"%3d  %-*s  %-*s  %-*s  %-12s  %s",
			i+1,
			idWidth, truncate(n.ID, idWidth),
			nameWidth, truncate(n.Name, nameWidth),
			addressWidth, truncate(n.Address, addressWidth),
			n.Status,
			humanAge(n.LastAccessAge),
		))
	}
}

// humanAge renders a duration the way an operator wants to read it:
// whole seconds below a minute, otherwise the duration rounded to the
// second (e.g. "1m30s ago").
func humanAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d/time.Second))
	}
	return fmt.Sprintf("%s ago", d.Round(time.Second))
}
