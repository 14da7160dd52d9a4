package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/aimi/goalgraph/internal/config"
	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/graph"
	"github.com/aimi/goalgraph/internal/lock"
	"github.com/aimi/goalgraph/internal/metrics"
	"github.com/aimi/goalgraph/internal/similarity"
)

// Options configures an Engine.
type Options struct {
	Config *config.Config
	Logger *zap.Logger

	// Embedder enables similarity search and embedding refresh. Nil disables
	// both: similarity calls fail with PROVIDER_UNAVAILABLE.
	Embedder similarity.Embedder

	// Summarizer consolidates merged goals. Nil uses similarity.ConcatSummarizer.
	Summarizer similarity.Summarizer

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine is the single entry point to the goal graph. Structural mutations
// of one user's graph are serialized; reads run against a snapshot without
// taking the user's lock.
type Engine struct {
	db         *sql.DB
	cfg        *config.Config
	log        *zap.Logger
	locks      *lock.Keyed
	embedder   similarity.Embedder
	summarizer similarity.Summarizer
	refresh    *refresher
	now        func() time.Time
}

// New creates an Engine over an initialized database. Call Close to stop
// the embedding refresh workers.
func New(database *sql.DB, opts Options) *Engine {
	e := &Engine{
		db:         database,
		cfg:        opts.Config,
		log:        opts.Logger,
		locks:      lock.NewKeyed(),
		embedder:   opts.Embedder,
		summarizer: opts.Summarizer,
		now:        opts.Now,
	}
	if e.cfg == nil {
		e.cfg = config.DefaultConfig()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.summarizer == nil {
		e.summarizer = similarity.ConcatSummarizer{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.embedder != nil && e.cfg.RefreshWorkers > 0 {
		e.refresh = newRefresher(e, e.cfg.RefreshWorkers)
	}
	return e
}

// Close stops accepting refresh jobs and waits for queued ones to finish.
func (e *Engine) Close() {
	if e.refresh != nil {
		e.refresh.close()
	}
}

// SimilarityEnabled reports whether an embedding provider is configured.
func (e *Engine) SimilarityEnabled() bool {
	return e.embedder != nil
}

// WaitRefreshes blocks until every queued embedding refresh has run.
func (e *Engine) WaitRefreshes() {
	if e.refresh != nil {
		e.refresh.wait()
	}
}

// unitOfWork is the state of one structural mutation: the open transaction,
// the user's graph as seen inside it, and the graph version it produces.
type unitOfWork struct {
	tx      *sql.Tx
	graph   *graph.Graph
	userID  string
	version int64
	now     int64
	changes []goal.StatusChange
}

// propagate runs the AND rule from seeds, persists every change and
// records it on the unit of work.
func (u *unitOfWork) propagate(ctx context.Context, seeds ...string) error {
	return u.persistChanges(ctx, graph.Propagate(u.graph, seeds...))
}

func (u *unitOfWork) persistChanges(ctx context.Context, changes []goal.StatusChange) error {
	for _, c := range changes {
		if err := db.UpdateGoalStatus(ctx, u.tx, c.GoalID, c.NewStatus, u.now); err != nil {
			return err
		}
		metrics.AddStatusChange(string(c.NewStatus))
	}
	u.changes = append(u.changes, changes...)
	return nil
}

// mutate runs fn as one serialized unit of work on userID's graph.
// Conflicts are retried with backoff up to cfg.MutationRetries attempts;
// every other error is returned as is and the transaction rolled back.
func (e *Engine) mutate(ctx context.Context, op, userID string, fn func(ctx context.Context, u *unitOfWork) error) (*unitOfWork, error) {
	started := time.Now()

	attempts := e.cfg.MutationRetries
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	u, err := backoff.Retry(ctx, func() (*unitOfWork, error) {
		u, err := e.mutateOnce(ctx, userID, fn)
		if err == nil {
			return u, nil
		}
		if errors.Is(err, errors.ErrConflict) {
			metrics.IncConflictRetry(op)
			e.log.Debug("mutation conflict, retrying", zap.String("op", op), zap.String("user_id", userID))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(attempts)))

	if err != nil {
		if _, ok := errors.As(err); !ok {
			err = errors.NewInternal(err)
		}
		e.recordFailure(op, userID, err, started)
		return nil, err
	}
	metrics.ObserveMutation(op, "ok", started)
	e.log.Debug("mutation committed",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.Int64("version", u.version),
		zap.Int("changes", len(u.changes)))
	return u, nil
}

func (e *Engine) mutateOnce(ctx context.Context, userID string, fn func(ctx context.Context, u *unitOfWork) error) (_ *unitOfWork, err error) {
	unlock, err := e.locks.Lock(ctx, userID)
	if err != nil {
		return nil, errors.NewConflict("timed out waiting for the graph lock")
	}
	defer unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := e.now().Unix()
	// The head row is written first so the transaction holds the write lock
	// before it reads the graph it validates against.
	version, err := db.BumpHead(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}
	g, err := loadGraph(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	u := &unitOfWork{tx: tx, graph: g, userID: userID, version: version, now: now}
	if err := fn(ctx, u); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, db.MapError(err)
	}
	return u, nil
}

func (e *Engine) recordFailure(op, userID string, err error, started time.Time) {
	gerr, _ := errors.As(err)
	metrics.IncRejection(string(gerr.Code))
	switch gerr.Code {
	case errors.ErrStorageInvariant:
		metrics.ObserveMutation(op, "error", started)
		kind, _ := gerr.Details["violation"].(string)
		metrics.IncStorageViolation(kind)
		e.log.Error("storage invariant violated after validation",
			zap.String("op", op),
			zap.String("user_id", userID),
			zap.String("violation", kind),
			zap.Error(gerr.Unwrap()))
	case errors.ErrInternal:
		metrics.ObserveMutation(op, "error", started)
		e.log.Error("mutation failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(gerr.Unwrap()))
	case errors.ErrConflict:
		metrics.ObserveMutation(op, "conflict", started)
		e.log.Warn("mutation conflict retries exhausted", zap.String("op", op), zap.String("user_id", userID))
	default:
		metrics.ObserveMutation(op, "rejected", started)
		e.log.Debug("mutation rejected", zap.String("op", op), zap.String("user_id", userID), zap.String("code", string(gerr.Code)))
	}
}

// loadGraph builds the in-memory graph of a user's goals and edges.
func loadGraph(ctx context.Context, q db.Querier, userID string) (*graph.Graph, error) {
	goals, err := db.ListUserGoals(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	deps, err := db.ListUserDependencies(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return graph.New(goals, deps), nil
}

// snapshot loads a consistent read-only view of a user's graph.
func (e *Engine) snapshot(ctx context.Context, userID string) (*graph.Graph, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer func() { _ = tx.Rollback() }()
	return loadGraph(ctx, tx, userID)
}
