// Package ha implements the high availability control loop: node
// registration, election, and the periodic registry checks that decide
// when this node becomes ACTIVE, STANDBY, or is forced to step down.
package ha

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentramon/server/internal/config"
	"github.com/sentramon/server/internal/domain"
	"github.com/sentramon/server/internal/ha/controlchannel"
	"github.com/sentramon/server/internal/ha/engine"
	"github.com/sentramon/server/internal/ha/registry"
)

// PollPeriod is the fixed interval between control-loop passes once a
// node has registered (spec §4.C).
const PollPeriod = 5 * time.Second

// Info is the externally visible identity of this node, used by the
// control channel's REGISTER/STATUS replies and the periodic report.
type Info struct {
	NodeID  domain.NodeID
	Name    string
	Address string
	Port    int
}

// Manager runs the HA control loop for one node. One Manager per
// process; it is safe to read Status/Self from other goroutines while
// Run is in progress.
type Manager struct {
	cfg    config.HANodeConfig
	gw     *registry.Gateway
	logger *zap.Logger

	mu            sync.RWMutex
	self          Info
	status        domain.NodeStatus
	failoverDelay time.Duration
	activePeer    engine.ActivePeerState
	offlineTicks  int
	paused        bool
	lastErr       error
}

// NewManager builds a Manager. cfg.NodeName == "" selects standalone
// mode (spec §4.B); otherwise the node participates in the cluster
// election described in §4.C.
func NewManager(cfg config.HANodeConfig, gw *registry.Gateway, logger *zap.Logger) *Manager {
	if cfg.ExternalAddress == "" {
		cfg.ExternalAddress = strings.TrimSpace(strings.Split(cfg.ListenIP, ",")[0])
	}
	if cfg.ExternalAddress == "" {
		cfg.ExternalAddress = "localhost"
	}
	if host, port, err := net.SplitHostPort(cfg.ExternalAddress); err == nil {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.ExternalAddress, cfg.ListenPort = host, p
		}
	}
	return &Manager{
		cfg:           cfg,
		gw:            gw,
		logger:        logger.Named("ha"),
		status:        domain.StatusUnknown,
		failoverDelay: domain.DefaultFailoverDelay,
	}
}

// Self returns the node's current identity, populated once
// registration completes.
func (m *Manager) Self() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// Status returns the node's current HA status.
func (m *Manager) Status() domain.NodeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Pause suspends the periodic registry check without tearing down
// registration, in response to the control channel's PAUSE opcode
// (spec §4.D).
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.logger.Info("control loop paused")
}

// Resume reverses Pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.logger.Info("control loop resumed")
}

func (m *Manager) setStatus(s domain.NodeStatus) {
	m.mu.Lock()
	prev := m.status
	m.status = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Info("status changed", zap.String("from", prev.String()), zap.String("to", s.String()))
	}
}

// ControlAdapter wires a Manager's Pause behavior, plus a cancel
// function for the process's root context, to the control channel's
// Controller interface so the STOP opcode can request a graceful
// shutdown from outside the owning goroutine.
type ControlAdapter struct {
	Manager *Manager
	Cancel  context.CancelFunc
}

// Pause suspends the control loop.
func (a *ControlAdapter) Pause() {
	a.Manager.Pause()
}

// Stop requests a graceful shutdown: the loop's shutdown finalizer
// marks the node STOPPED once Run observes the cancelled context.
func (a *ControlAdapter) Stop() {
	a.Cancel()
}

// Run performs the initial registration and then drives the control
// loop until ctx is cancelled, at which point it runs the shutdown
// finalizer and returns. It implements the catch-up tick scheduling of
// spec §4.C: a pass that runs long never causes a burst of queued
// ticks afterward, the schedule just skips forward to the present.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.register(ctx); err != nil {
		m.setStatus(domain.StatusError)
		return fmt.Errorf("initial registration: %w", err)
	}

	nextCheck := time.Now()
	for {
		now := time.Now()
		if !nextCheck.After(now) {
			for !nextCheck.After(now) {
				nextCheck = nextCheck.Add(PollPeriod)
			}
			m.runTick(ctx)
		}

		wait := time.Until(nextCheck)
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.shutdownFinalizer()
			return nil
		case <-timer.C:
		}
	}
}

func (m *Manager) runTick(ctx context.Context) {
	m.mu.RLock()
	paused := m.paused
	m.mu.RUnlock()
	if paused {
		return
	}
	if err := m.checkNodes(ctx); err != nil {
		m.logger.Error("check failed", zap.Error(err))
	}
}

// register performs the registration transaction described in spec
// §4.A/§4.B: lock the node table, validate the existing snapshot
// (every row must be STOPPED for a standalone node; no non-STOPPED
// standalone or duplicate-name row for a cluster node), decide this
// node's starting status, and either insert a new row or refresh an
// existing one.
func (m *Manager) register(ctx context.Context) error {
	if res := m.gw.Begin(ctx); !res.IsOK() {
		return res.Err
	}
	defer m.gw.Rollback(ctx)

	nodes, res := m.gw.ListNodes(ctx, true)
	if !res.IsOK() {
		return res.Err
	}

	if fd, res := m.gw.LoadFailoverDelay(ctx); res.IsOK() {
		m.mu.Lock()
		m.failoverDelay = fd
		m.mu.Unlock()
	}

	if !m.cfg.IsCluster() {
		if ok, offendingStatus := engine.ValidateStandalone(nodes); !ok {
			return fmt.Errorf("found %s node in standalone mode", offendingStatus)
		}
		existing, found := engine.FindByName(nodes, "")
		id := domain.NewNodeID()
		if found {
			id = existing.NodeID
			if res := m.gw.UpdateSelf(ctx, id, domain.StatusActive, m.cfg.ExternalAddress, m.cfg.ListenPort); !res.IsOK() {
				return res.Err
			}
		} else {
			rec := domain.NodeRecord{NodeID: id, Name: "", Status: domain.StatusActive, Address: m.cfg.ExternalAddress, Port: m.cfg.ListenPort}
			if res := m.gw.InsertNode(ctx, rec); !res.IsOK() {
				return res.Err
			}
		}
		m.setSelf(Info{NodeID: id, Address: m.cfg.ExternalAddress, Port: m.cfg.ListenPort})
		m.setStatus(domain.StatusActive)
		return commitOrErr(ctx, m.gw)
	}

	if ok, offending, standaloneConflict := engine.ValidateCluster(nodes, m.cfg.NodeName); !ok {
		if standaloneConflict {
			return fmt.Errorf("found %s standalone node in HA mode", offending.Status)
		}
		return fmt.Errorf("found %s duplicate %s node", offending.Status, offending.Name)
	}

	existing, found := engine.FindByName(nodes, m.cfg.NodeName)
	_, activeFound := engine.FindActive(nodes, existing.NodeID)

	startStatus := domain.StatusStandby
	if !activeFound {
		startStatus = domain.StatusActive
	}

	id := domain.NewNodeID()
	if found {
		id = existing.NodeID
		if res := m.gw.UpdateSelf(ctx, id, startStatus, m.cfg.ExternalAddress, m.cfg.ListenPort); !res.IsOK() {
			return res.Err
		}
	} else {
		rec := domain.NodeRecord{NodeID: id, Name: m.cfg.NodeName, Status: startStatus, Address: m.cfg.ExternalAddress, Port: m.cfg.ListenPort}
		if res := m.gw.InsertNode(ctx, rec); !res.IsOK() {
			return res.Err
		}
	}

	m.setSelf(Info{NodeID: id, Name: m.cfg.NodeName, Address: m.cfg.ExternalAddress, Port: m.cfg.ListenPort})
	m.setStatus(startStatus)
	return commitOrErr(ctx, m.gw)
}

func (m *Manager) setSelf(info Info) {
	m.mu.Lock()
	m.self = info
	m.mu.Unlock()
}

func commitOrErr(ctx context.Context, gw *registry.Gateway) error {
	if res := gw.Commit(ctx); !res.IsOK() {
		return res.Err
	}
	return nil
}

// checkNodes runs one periodic pass of the election algorithm (spec
// §4.C): reap stale standbys, detect and resolve a stale ACTIVE peer,
// and either hold, promote, or self-demote this node.
func (m *Manager) checkNodes(ctx context.Context) error {
	if res := m.gw.Begin(ctx); !res.IsOK() {
		return m.handleTransientFailure(res)
	}
	defer m.gw.Rollback(ctx)

	dbNow, res := m.gw.DBNow(ctx)
	if !res.IsOK() {
		return m.handleTransientFailure(res)
	}

	failoverDelay, res := m.gw.LoadFailoverDelay(ctx)
	if res.IsOK() {
		m.mu.Lock()
		m.failoverDelay = failoverDelay
		m.mu.Unlock()
	} else {
		m.mu.RLock()
		failoverDelay = m.failoverDelay
		m.mu.RUnlock()
	}

	nodes, res := m.gw.ListNodes(ctx, true)
	if !res.IsOK() {
		return m.handleTransientFailure(res)
	}

	self := m.Self()
	status := m.Status()

	var stale []domain.NodeID
	for _, n := range nodes {
		if n.NodeID == self.NodeID {
			continue
		}
		if engine.ShouldReapStandby(n, dbNow, failoverDelay) {
			stale = append(stale, n.NodeID)
			m.logger.Warn("peer marked unavailable", zap.String("name", n.Name), zap.Time("lastaccess", n.LastAccess))
		}
	}
	if res := m.gw.MarkUnavailableBatch(ctx, stale); !res.IsOK() {
		return m.handleTransientFailure(res)
	}

	active, activeFound := engine.FindActive(nodes, self.NodeID)

	if status == domain.StatusActive {
		if activeFound {
			m.logger.Error("another node claims active status, stepping down", zap.String("peer", active.Name))
			if res := m.gw.Touch(ctx, self.NodeID, domain.StatusError); !res.IsOK() {
				return m.handleTransientFailure(res)
			}
			m.setStatus(domain.StatusError)
			return commitOrErr(ctx, m.gw)
		}
		if res := m.gw.Tick(ctx, self.NodeID); !res.IsOK() {
			return m.handleTransientFailure(res)
		}
		m.resetOffline()
		return commitOrErr(ctx, m.gw)
	}

	if !activeFound {
		if res := m.gw.Touch(ctx, self.NodeID, domain.StatusActive); !res.IsOK() {
			return m.handleTransientFailure(res)
		}
		m.setStatus(domain.StatusActive)
		m.resetOffline()
		m.logger.Info("promoted to active", zap.String("reason", "no active peer"))
		return commitOrErr(ctx, m.gw)
	}

	m.mu.Lock()
	newState, promote := engine.Observe(m.activePeer, active, activeFound, PollPeriod, failoverDelay)
	m.activePeer = newState
	m.mu.Unlock()

	if promote {
		if res := m.gw.Touch(ctx, self.NodeID, domain.StatusActive); !res.IsOK() {
			return m.handleTransientFailure(res)
		}
		m.setStatus(domain.StatusActive)
		m.logger.Warn("promoted to active", zap.String("reason", "active peer stale"), zap.String("peer", active.Name))
		return commitOrErr(ctx, m.gw)
	}

	if res := m.gw.Tick(ctx, self.NodeID); !res.IsOK() {
		return m.handleTransientFailure(res)
	}
	m.resetOffline()
	return commitOrErr(ctx, m.gw)
}

func (m *Manager) resetOffline() {
	m.mu.Lock()
	m.offlineTicks = 0
	m.mu.Unlock()
}

// handleTransientFailure is invoked for a failed gateway call made during
// a check pass before its commit; a ClassFail result sets StatusError.
// For a ClassDown result it counts consecutive offline ticks and, if this
// node was ACTIVE, self-demotes once the count exceeds the failover window
// (spec §4.C, self-demotion). A failed Commit at the end of a pass is
// returned through commitOrErr and is not counted here.
func (m *Manager) handleTransientFailure(res domain.Result) error {
	if res.IsFail() {
		m.setStatus(domain.StatusError)
		m.mu.Lock()
		m.lastErr = res.Err
		m.mu.Unlock()
		return res.Err
	}

	m.mu.Lock()
	m.offlineTicks++
	offline := m.offlineTicks
	failoverDelay := m.failoverDelay
	status := m.status
	m.mu.Unlock()

	m.logger.Warn("registry unreachable", zap.Error(res.Err), zap.Int("offline_ticks", offline))

	if status == domain.StatusActive && engine.ShouldSelfDemote(offline, failoverDelay, PollPeriod) {
		m.setStatus(domain.StatusStandby)
		m.logger.Error("self-demoted after losing registry access", zap.Int("offline_ticks", offline))
	}
	return res.Err
}

// shutdownFinalizer marks this node STOPPED on a best-effort basis
// before the process exits (spec §4.C, "graceful shutdown").
func (m *Manager) shutdownFinalizer() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	self := m.Self()
	if self.NodeID.Empty() {
		return
	}

	if res := m.gw.Begin(ctx); !res.IsOK() {
		m.logger.Warn("shutdown finalizer could not start transaction", zap.Error(res.Err))
		return
	}
	defer m.gw.Rollback(ctx)

	if res := m.gw.Touch(ctx, self.NodeID, domain.StatusStopped); !res.IsOK() {
		m.logger.Warn("shutdown finalizer could not update status", zap.Error(res.Err))
		return
	}
	if res := m.gw.Commit(ctx); !res.IsOK() {
		m.logger.Warn("shutdown finalizer commit failed", zap.Error(res.Err))
		return
	}
	m.setStatus(domain.StatusStopped)
	m.logger.Info("node marked stopped")
}

// StatusPayload implements controlchannel.StatusProvider for the
// REGISTER/STATUS replies.
func (m *Manager) StatusPayload() controlchannel.StatusPayload {
	self := m.Self()
	return controlchannel.StatusPayload{
		NodeID:  self.NodeID,
		Name:    self.Name,
		Status:  m.Status(),
		Address: self.Address,
		Port:    self.Port,
	}
}

// ReportEntries implements controlchannel.NodesLister for the
// REPORT_NODES reply (spec §4.E).
func (m *Manager) ReportEntries(ctx context.Context) ([]controlchannel.ReportEntry, error) {
	if res := m.gw.Begin(ctx); !res.IsOK() {
		return nil, res.Err
	}
	defer m.gw.Rollback(ctx)

	dbNow, res := m.gw.DBNow(ctx)
	if !res.IsOK() {
		return nil, res.Err
	}

	nodes, res := m.gw.ListNodes(ctx, false)
	if !res.IsOK() {
		return nil, res.Err
	}
	_ = m.gw.Commit(ctx)

	entries := make([]controlchannel.ReportEntry, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, controlchannel.ReportEntry{
			NodeID:        n.NodeID,
			Name:          n.Name,
			Status:        n.Status,
			Address:       n.Address,
			Port:          n.Port,
			LastAccessAge: dbNow.Sub(n.LastAccess),
		})
	}
	return entries, nil
}
