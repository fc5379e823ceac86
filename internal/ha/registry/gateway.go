// Package registry implements the node registry gateway: all access to
// the ha_node and config tables goes through here, so the election
// engine and control loop never touch pgx directly.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sentramon/server/internal/domain"
)

// Gateway wraps a connection pool and the current transaction, if any.
// Only one transaction is ever open at a time - Begin blocks until any
// prior transaction has been committed or rolled back - since both the
// control loop and the control channel's REPORT_NODES handler share
// one Gateway per process.
type Gateway struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu sync.Mutex
	tx pgx.Tx
}

// New builds a Gateway over an already-connected pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Gateway {
	return &Gateway{pool: pool, logger: logger.Named("registry")}
}

// classify maps a pgx/driver error onto the OK/DOWN/FAIL triad. Network
// and pool-level failures are transient (DOWN); anything the database
// actively answered with - constraint violations, bad rows - is
// treated as fatal (FAIL), mirroring the distinction spec design note
// §9 calls out as bug-prone in the original C.
func classify(err error) domain.Result {
	if err == nil {
		return domain.OK()
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Fail(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return domain.Fail(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Down(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Down(err)
	}
	if errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, pgxpool.ErrClosedPool) {
		return domain.Down(err)
	}
	return domain.Down(err)
}

// Begin acquires exclusive access to the Gateway and opens a
// transaction for the next registry operation. The control loop
// performs its entire per-tick algorithm inside one transaction,
// committing once at the end (spec §4.A/§4.C); callers must always
// follow with Commit or Rollback to release the lock.
func (g *Gateway) Begin(ctx context.Context) domain.Result {
	g.mu.Lock()
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		g.mu.Unlock()
		return classify(err)
	}
	g.tx = tx
	return domain.OK()
}

// Commit commits the open transaction and releases the lock acquired
// by Begin.
func (g *Gateway) Commit(ctx context.Context) domain.Result {
	if g.tx == nil {
		return domain.OK()
	}
	err := g.tx.Commit(ctx)
	g.tx = nil
	defer g.mu.Unlock()
	return classify(err)
}

// Rollback aborts the open transaction and releases the lock acquired
// by Begin. Safe to call with no transaction open.
func (g *Gateway) Rollback(ctx context.Context) {
	if g.tx == nil {
		return
	}
	defer g.mu.Unlock()
	if err := g.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		g.logger.Warn("rollback failed", zap.Error(err))
	}
	g.tx = nil
}

// DBNow returns the database server's clock. Spec §5 forbids ever
// comparing this against the monotonic local clock used for tick
// scheduling; callers must use it only for freshness comparisons
// against last_access.
func (g *Gateway) DBNow(ctx context.Context) (time.Time, domain.Result) {
	var now time.Time
	err := g.tx.QueryRow(ctx, `SELECT now()`).Scan(&now)
	if err != nil {
		return time.Time{}, classify(err)
	}
	return now, domain.OK()
}

// LoadFailoverDelay reads the ha_failover_delay setting from the config
// table, falling back to domain.DefaultFailoverDelay when the row is
// absent.
func (g *Gateway) LoadFailoverDelay(ctx context.Context) (time.Duration, domain.Result) {
	var raw string
	err := g.tx.QueryRow(ctx, `SELECT ha_failover_delay FROM config LIMIT 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultFailoverDelay, domain.OK()
	}
	if err != nil {
		return 0, classify(err)
	}
	d, perr := domain.ParseTimeSuffix(raw)
	if perr != nil {
		return 0, domain.Fail(fmt.Errorf("invalid ha_failover_delay %q: %w", raw, perr))
	}
	return d, domain.OK()
}

// ListNodes returns all rows of ha_node ordered by ha_nodeid ascending
// (spec §4.A "ordered by node_id"; §8 round-trip property), optionally
// taking FOR UPDATE row locks (spec §4.C "lock the node list").
func (g *Gateway) ListNodes(ctx context.Context, forUpdate bool) ([]domain.NodeRecord, domain.Result) {
	query := `SELECT ha_nodeid, name, status, lastaccess, address, port FROM ha_node ORDER BY ha_nodeid`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := g.tx.Query(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.NodeRecord
	for rows.Next() {
		var n domain.NodeRecord
		var id string
		if err := rows.Scan(&id, &n.Name, &n.Status, &n.LastAccess, &n.Address, &n.Port); err != nil {
			return nil, classify(err)
		}
		n.NodeID = domain.NodeID(id)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, domain.OK()
}

// FindByName returns the node row with the given name, if any.
func (g *Gateway) FindByName(ctx context.Context, name string) (domain.NodeRecord, bool, domain.Result) {
	var n domain.NodeRecord
	var id string
	err := g.tx.QueryRow(ctx,
		`SELECT ha_nodeid, name, status, lastaccess, address, port FROM ha_node WHERE name = $1`,
		name,
	).Scan(&id, &n.Name, &n.Status, &n.LastAccess, &n.Address, &n.Port)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NodeRecord{}, false, domain.OK()
	}
	if err != nil {
		return domain.NodeRecord{}, false, classify(err)
	}
	n.NodeID = domain.NodeID(id)
	return n, true, domain.OK()
}

// InsertNode creates a brand new ha_node row for a first-time
// registration (spec §4.A, "a node name not yet on record").
func (g *Gateway) InsertNode(ctx context.Context, n domain.NodeRecord) domain.Result {
	_, err := g.tx.Exec(ctx,
		`INSERT INTO ha_node (ha_nodeid, name, status, lastaccess, address, port)
		 VALUES ($1, $2, $3, now(), $4, $5)`,
		string(n.NodeID), n.Name, n.Status, n.Address, n.Port,
	)
	return classify(err)
}

// UpdateSelf refreshes this node's own row: address, port, status, and
// bumps lastaccess to now() (spec §4.A "every registration resets
// lastaccess").
func (g *Gateway) UpdateSelf(ctx context.Context, id domain.NodeID, status domain.NodeStatus, address string, port int) domain.Result {
	_, err := g.tx.Exec(ctx,
		`UPDATE ha_node SET status = $2, address = $3, port = $4, lastaccess = now() WHERE ha_nodeid = $1`,
		string(id), status, address, port,
	)
	return classify(err)
}

// Tick bumps lastaccess for this node without touching status, the
// steady-state heartbeat performed on every control-loop pass (spec
// §4.C).
func (g *Gateway) Tick(ctx context.Context, id domain.NodeID) domain.Result {
	_, err := g.tx.Exec(ctx, `UPDATE ha_node SET lastaccess = now() WHERE ha_nodeid = $1`, string(id))
	return classify(err)
}

// Touch refreshes this node's own row: lastaccess is always bumped to
// now(), and status is updated in the same statement when it changed
// this tick. Every successful commit against the own row must refresh
// lastaccess (spec §4.C step 6, invariant 3) - a node must not skip a
// heartbeat on the very tick it promotes or steps down.
func (g *Gateway) Touch(ctx context.Context, id domain.NodeID, status domain.NodeStatus) domain.Result {
	_, err := g.tx.Exec(ctx,
		`UPDATE ha_node SET status = $2, lastaccess = now() WHERE ha_nodeid = $1`,
		string(id), status,
	)
	return classify(err)
}

// MarkUnavailableBatch flags every listed peer unavailable in a single
// statement (spec §4.C standby reaper branch; original's batched
// `UPDATE ... WHERE id IN (...)`), rather than one round trip per stale
// peer.
func (g *Gateway) MarkUnavailableBatch(ctx context.Context, ids []domain.NodeID) domain.Result {
	if len(ids) == 0 {
		return domain.OK()
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	_, err := g.tx.Exec(ctx,
		`UPDATE ha_node SET status = $2 WHERE ha_nodeid = ANY($1)`,
		raw, domain.StatusUnavailable,
	)
	return classify(err)
}
