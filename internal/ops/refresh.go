package ops

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/metrics"
)

// refreshQueueSize bounds pending refresh jobs; overflow is left to the
// periodic reindex sweep.
const refreshQueueSize = 256

// Backoff between retries of a failed refresh job.
const (
	refreshRetryInterval = time.Second
	refreshRetryMax      = 30 * time.Second
)

// RefreshOutput contains the result of the RefreshEmbedding operation.
type RefreshOutput struct {
	GoalID string `json:"goal_id"`

	// Refreshed is false when the active embedding was already current.
	Refreshed bool            `json:"refreshed"`
	Embedding *goal.Embedding `json:"embedding"`
}

// RefreshEmbedding makes sure the goal has an active embedding of its
// current content. It calls the provider only when the content hash or the
// model differs from the active embedding, or when a merge into the goal has
// not been consolidated yet. A goal with merged duplicates is embedded from
// the summary of its own text and theirs. Provider calls run outside any
// graph lock.
func (e *Engine) RefreshEmbedding(ctx context.Context, goalID string) (*RefreshOutput, error) {
	if err := requireGoalID("goal_id", goalID); err != nil {
		return nil, err
	}
	if e.embedder == nil {
		return nil, errors.NewProviderUnavailable("embed", errNoEmbedder)
	}
	g, err := db.GetGoal(ctx, e.db, goalID)
	if err != nil {
		return nil, err
	}
	if err := requireLive(g); err != nil {
		return nil, err
	}

	text := goal.SummaryText(g)
	hash := goal.ContentHash(text)
	merged, pending, err := db.GetMergedSummary(ctx, e.db, goalID)
	if err != nil {
		return nil, err
	}
	active, err := db.GetActiveEmbedding(ctx, e.db, goalID)
	if err != nil {
		return nil, err
	}
	if !pending && active != nil && active.ContentHash == hash && active.Model == e.embedder.Model() {
		return &RefreshOutput{GoalID: goalID, Embedding: active}, nil
	}

	if merged != "" {
		summary, err := e.summarizer.Summarize(ctx, text, merged)
		if err != nil {
			return nil, providerError("summarize", err)
		}
		text = summary
	}
	emb, err := e.embed(ctx, goalID, text, hash, merged)
	if err != nil {
		return nil, err
	}
	return &RefreshOutput{GoalID: goalID, Refreshed: true, Embedding: emb}, nil
}

// embed generates a vector for text and stores it as the goal's active
// embedding. hash is the content hash of the goal's own text; merged is the
// merged duplicate text folded into text, if any.
func (e *Engine) embed(ctx context.Context, goalID, text, hash, merged string) (*goal.Embedding, error) {
	vec, err := e.embedder.Embed(ctx, goal.PlainText(text))
	if err != nil {
		return nil, providerError("embed", err)
	}
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	emb := &goal.Embedding{
		ID:          id,
		GoalID:      goalID,
		SummaryText: text,
		Vector:      vec,
		Model:       e.embedder.Model(),
		ContentHash: hash,
		Active:      true,
		CreatedAt:   e.now().Unix(),
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	// A merge may have archived the goal while the provider was called.
	g, err := db.GetGoal(ctx, tx, goalID)
	if err != nil {
		return nil, err
	}
	if err := requireLive(g); err != nil {
		return nil, err
	}
	if _, err := db.DeactivateEmbeddings(ctx, tx, goalID); err != nil {
		return nil, err
	}
	if err := db.InsertEmbedding(ctx, tx, emb); err != nil {
		return nil, err
	}
	if merged != "" {
		if _, err := db.CompleteMergedSummary(ctx, tx, goalID, merged); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, db.MapError(err)
	}
	return emb, nil
}

// ReindexOutput summarizes a ReindexStale sweep.
type ReindexOutput struct {
	Users     int `json:"users"`
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// ReindexStale refreshes every live goal whose embedding is missing or no
// longer matches its content. An empty userID sweeps all users. Individual
// provider failures are counted, not returned; the next sweep retries them.
func (e *Engine) ReindexStale(ctx context.Context, userID string) (*ReindexOutput, error) {
	if e.embedder == nil {
		return nil, errors.NewProviderUnavailable("embed", errNoEmbedder)
	}
	var users []string
	if userID != "" {
		if err := requireUserID(userID); err != nil {
			return nil, err
		}
		users = []string{userID}
	} else {
		var err error
		if users, err = db.ListUserIDs(ctx, e.db); err != nil {
			return nil, err
		}
	}

	out := &ReindexOutput{Users: len(users)}
	var refreshed, failed atomic.Int64

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(max(e.cfg.RefreshWorkers, 1))
	for _, uid := range users {
		stale, checked, err := e.staleGoals(ctx, uid)
		if err != nil {
			return nil, err
		}
		out.Checked += checked
		for _, id := range stale {
			grp.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if _, err := e.RefreshEmbedding(gctx, id); err != nil {
					failed.Add(1)
					metrics.IncRefresh("error")
					e.log.Warn("reindex refresh failed", zap.String("goal_id", id), zap.Error(err))
					return nil
				}
				refreshed.Add(1)
				metrics.IncRefresh("ok")
				return nil
			})
		}
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	out.Refreshed = int(refreshed.Load())
	out.Failed = int(failed.Load())
	e.log.Info("reindex sweep finished",
		zap.Int("users", out.Users),
		zap.Int("checked", out.Checked),
		zap.Int("refreshed", out.Refreshed),
		zap.Int("failed", out.Failed))
	return out, nil
}

// staleGoals returns the live goals of a user whose active embedding is
// missing, hashed from different content, or waiting for a merge to be
// consolidated, and the number of goals checked.
func (e *Engine) staleGoals(ctx context.Context, userID string) ([]string, int, error) {
	goals, err := db.ListUserGoals(ctx, e.db, userID)
	if err != nil {
		return nil, 0, err
	}
	hashes, err := db.ActiveContentHashes(ctx, e.db, userID)
	if err != nil {
		return nil, 0, err
	}
	pending, err := db.PendingMergedSummaries(ctx, e.db, userID)
	if err != nil {
		return nil, 0, err
	}
	var stale []string
	checked := 0
	for i := range goals {
		g := &goals[i]
		if g.Archived() {
			continue
		}
		checked++
		if pending[g.ID] || hashes[g.ID] != goal.ContentHash(goal.SummaryText(g)) {
			stale = append(stale, g.ID)
		}
	}
	return stale, checked, nil
}

// refreshJob asks a worker to refresh one goal's embedding. attempt counts
// earlier failed runs of the same job.
type refreshJob struct {
	goalID  string
	attempt int
}

// refresher runs embedding refreshes after commits on a fixed pool of
// goroutines, away from the caller and any graph lock. Jobs failing with a
// retryable error are re-queued with exponential backoff.
type refresher struct {
	engine      *Engine
	jobs        chan refreshJob
	maxAttempts int
	retryBase   time.Duration
	mu          sync.RWMutex
	closed      bool
	workers     sync.WaitGroup
	pending     sync.WaitGroup
}

func newRefresher(e *Engine, workers int) *refresher {
	r := &refresher{
		engine:      e,
		jobs:        make(chan refreshJob, refreshQueueSize),
		maxAttempts: max(e.cfg.ProviderRetries, 1),
		retryBase:   refreshRetryInterval,
	}
	for i := 0; i < workers; i++ {
		r.workers.Add(1)
		go r.run()
	}
	return r
}

func (r *refresher) run() {
	defer r.workers.Done()
	for job := range r.jobs {
		metrics.SetRefreshQueue(len(r.jobs))
		r.process(job)
		r.pending.Done()
	}
}

func (r *refresher) process(job refreshJob) {
	e := r.engine
	_, err := e.RefreshEmbedding(context.Background(), job.goalID)
	if err == nil {
		metrics.IncRefresh("ok")
		return
	}
	metrics.IncRefresh("error")
	if !errors.IsRetryable(err) || job.attempt+1 >= r.maxAttempts {
		e.log.Warn("embedding refresh failed, leaving goal to reindex",
			zap.String("goal_id", job.goalID), zap.Int("attempts", job.attempt+1), zap.Error(err))
		return
	}
	delay := r.retryDelay(job.attempt)
	e.log.Debug("embedding refresh failed, retrying",
		zap.String("goal_id", job.goalID), zap.Duration("delay", delay), zap.Error(err))

	// Held until the retry is queued so wait covers it.
	r.pending.Add(1)
	job.attempt++
	time.AfterFunc(delay, func() {
		defer r.pending.Done()
		r.enqueue(job)
	})
}

// retryDelay is the backoff before retry number attempt+1.
func (r *refresher) retryDelay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryBase
	bo.MaxInterval = refreshRetryMax
	d := bo.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}

func (r *refresher) enqueue(job refreshJob) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.pending.Add(1)
	select {
	case r.jobs <- job:
		metrics.SetRefreshQueue(len(r.jobs))
	default:
		r.pending.Done()
		metrics.IncRefresh("dropped")
		r.engine.log.Warn("embedding refresh queue full, leaving goal to reindex", zap.String("goal_id", job.goalID))
	}
}

func (r *refresher) wait() {
	r.pending.Wait()
}

func (r *refresher) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()
	r.workers.Wait()
}

// scheduleRefresh queues an embedding refresh for a goal whose content changed.
func (e *Engine) scheduleRefresh(goalID string) {
	if e.refresh != nil {
		e.refresh.enqueue(refreshJob{goalID: goalID})
	}
}
