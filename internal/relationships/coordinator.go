package relationships

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meetloop/backend/internal/logging"
	"github.com/meetloop/backend/internal/repositories"
)

// DefaultMutationTimeout bounds every store call made for a command.
const DefaultMutationTimeout = 10 * time.Second

// Mutation outcomes reported to Metrics.
const (
	OutcomeCommitted  = "committed"
	OutcomeCorrected  = "corrected"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
)

// Outcome reports the result of a command that took effect.
type Outcome struct {
	Command      Command      `json:"command"`
	Previous     Relationship `json:"previous"`
	Relationship Relationship `json:"relationship"`
	// Corrected is set when the store's state differs from the state the
	// command aimed for, for example after an auto-match or a conflict.
	Corrected bool `json:"corrected"`
}

// CoordinatorConfig wires optional collaborators.
type CoordinatorConfig struct {
	Timeout time.Duration
	Events  EventPublisher
	Metrics Metrics
	Now     func() time.Time
}

// Coordinator applies relationship commands optimistically against the cache
// and reconciles them with the store. Commands for the same pair run one at a
// time.
type Coordinator struct {
	store   Store
	cache   *Cache
	events  EventPublisher
	metrics Metrics
	timeout time.Duration
	now     func() time.Time
	locks   *pairLocks
}

// NewCoordinator constructs a coordinator over store and cache.
func NewCoordinator(store Store, cache *Cache, cfg CoordinatorConfig) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMutationTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		store:   store,
		cache:   cache,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		timeout: cfg.Timeout,
		now:     cfg.Now,
		locks:   newPairLocks(),
	}
}

// Get returns the viewer's relationship with target through the cache.
func (c *Coordinator) Get(ctx context.Context, viewerID, targetID string) (Relationship, error) {
	return c.cache.Get(ctx, viewerID, targetID)
}

// GetBatch returns the viewer's status with each target through the cache.
func (c *Coordinator) GetBatch(ctx context.Context, viewerID string, targetIDs []string) (map[string]Status, error) {
	ctx, span := logging.StartSpan(ctx, "relationships.batch")
	defer span.End()
	return c.cache.GetBatch(ctx, viewerID, targetIDs)
}

// SendRequest asks target to be the viewer's friend. A pending request from
// target is accepted instead.
func (c *Coordinator) SendRequest(ctx context.Context, viewerID, targetID string) (Outcome, error) {
	return c.Execute(ctx, CommandSend, viewerID, targetID)
}

// AcceptRequest accepts the pending request target sent to the viewer.
func (c *Coordinator) AcceptRequest(ctx context.Context, viewerID, targetID string) (Outcome, error) {
	return c.Execute(ctx, CommandAccept, viewerID, targetID)
}

// DeclineRequest declines the pending request target sent to the viewer.
func (c *Coordinator) DeclineRequest(ctx context.Context, viewerID, targetID string) (Outcome, error) {
	return c.Execute(ctx, CommandDecline, viewerID, targetID)
}

// CancelRequest withdraws the viewer's pending request to target.
func (c *Coordinator) CancelRequest(ctx context.Context, viewerID, targetID string) (Outcome, error) {
	return c.Execute(ctx, CommandCancel, viewerID, targetID)
}

// Unfriend ends the friendship. A follow from target may survive it.
func (c *Coordinator) Unfriend(ctx context.Context, viewerID, targetID string) (Outcome, error) {
	return c.Execute(ctx, CommandUnfriend, viewerID, targetID)
}

// Follow adds the viewer's follow edge to target.
func (c *Coordinator) Follow(ctx context.Context, viewerID, targetID string) (Outcome, error) {
	return c.Execute(ctx, CommandFollow, viewerID, targetID)
}

// Unfollow removes the viewer's follow edge to target.
func (c *Coordinator) Unfollow(ctx context.Context, viewerID, targetID string) (Outcome, error) {
	return c.Execute(ctx, CommandUnfollow, viewerID, targetID)
}

// Execute runs cmd for the (viewer, target) pair.
//
// The cached state is replaced with the command's predicted state before the
// store is called. On success the prediction is reconciled with what the
// store reports; on failure the previous state is restored and a
// *MutationError is returned. Once the store call has started, cancelling ctx
// no longer affects it; only the mutation timeout does.
func (c *Coordinator) Execute(ctx context.Context, cmd Command, viewerID, targetID string) (Outcome, error) {
	t, ok := transitions[cmd]
	if !ok {
		return Outcome{}, c.reject(cmd, fmt.Errorf("%w %q", ErrUnknownCommand, cmd))
	}
	if viewerID == "" || targetID == "" || viewerID == targetID {
		return Outcome{}, c.reject(cmd, fmt.Errorf("%w: invalid pair", ErrPrecondition))
	}

	ctx, span := logging.StartSpan(ctx, "relationships."+string(cmd))
	outcome, err := c.execute(ctx, t, cmd, viewerID, targetID)
	span.RecordError(err)
	span.End()
	return outcome, err
}

func (c *Coordinator) execute(ctx context.Context, t transition, cmd Command, viewerID, targetID string) (Outcome, error) {
	logger := logging.FromContext(ctx).With(slog.String("command", string(cmd)), slog.String("targetId", targetID))

	key := PairKey{Viewer: viewerID, Target: targetID}
	release, err := c.locks.acquire(ctx, key)
	if err != nil {
		c.metrics.Mutation(cmd, OutcomeRejected)
		return Outcome{}, &MutationError{Command: cmd, Kind: KindTransient, Err: fmt.Errorf("wait for pending command: %w", err)}
	}
	defer release()

	current, err := c.cache.Get(ctx, viewerID, targetID)
	if err != nil {
		c.metrics.Mutation(cmd, OutcomeRejected)
		return Outcome{Command: cmd, Previous: current, Relationship: current},
			&MutationError{Command: cmd, Kind: KindTransient, Err: err}
	}
	outcome := Outcome{Command: cmd, Previous: current, Relationship: current}

	if !t.permits(current.Status) {
		return outcome, c.reject(cmd, fmt.Errorf("%w: cannot %s while %s", ErrPrecondition, cmd, current.Status))
	}
	if t.needsRequest && current.RequestID == "" {
		return outcome, c.reject(cmd, ErrMissingRequestID)
	}

	prev, existed := c.cache.snapshot(key)
	optimistic := t.optimistic(current)
	version := c.cache.Set(viewerID, targetID, optimistic)

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	server, err := c.call(mctx, t, key, current)
	if err != nil {
		conflict := errors.Is(err, repositories.ErrConflict)
		if conflict {
			if corrected, ok := c.adopt(mctx, key, version); ok {
				logger.Info("relationship command corrected by store",
					slog.String("status", string(corrected.Status)))
				c.metrics.Mutation(cmd, OutcomeCorrected)
				c.committed(mctx, cmd, key, current, corrected)
				outcome.Relationship = corrected
				outcome.Corrected = true
				return outcome, nil
			}
		}

		kind := classify(mctx, err)
		// After a not-found or an unadoptable conflict the store has moved on
		// from the restored value.
		c.rollback(mctx, key, version, prev, existed, conflict || kind == KindNotFound)
		c.metrics.Mutation(cmd, OutcomeRolledBack)
		if kind == KindTimeout {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, c.timeout, err)
		}
		logger.Warn("relationship command rolled back", slog.String("kind", string(kind)), slog.Any("error", err))
		return outcome, &MutationError{Command: cmd, Kind: kind, Err: err}
	}

	final := optimistic
	switch {
	case server != nil:
		final = server.normalize()
	case t.reload:
		if rel, lerr := c.cache.fetch(mctx, key); lerr == nil {
			final = rel
		} else {
			logger.Warn("relationship reload after command failed", slog.Any("error", lerr))
		}
	}

	if _, ok := c.cache.CompareAndSwap(viewerID, targetID, version, final); !ok {
		_ = c.cache.Invalidate(mctx, key)
	}
	c.committed(mctx, cmd, key, current, final)

	outcome.Relationship = final
	outcome.Corrected = final.Status != optimistic.Status
	if outcome.Corrected {
		c.metrics.Mutation(cmd, OutcomeCorrected)
	} else {
		c.metrics.Mutation(cmd, OutcomeCommitted)
	}
	logger.Info("relationship command committed", slog.String("status", string(final.Status)))
	return outcome, nil
}

// call runs the store call and gives up when ctx ends even if the store does not.
func (c *Coordinator) call(ctx context.Context, t transition, key PairKey, current Relationship) (*Relationship, error) {
	type result struct {
		rel *Relationship
		err error
	}
	done := make(chan result, 1)
	go func() {
		rel, err := t.execute(ctx, c.store, key, current)
		done <- result{rel: rel, err: err}
	}()

	select {
	case res := <-done:
		return res.rel, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// adopt replaces the optimistic entry with the store's current state.
func (c *Coordinator) adopt(ctx context.Context, key PairKey, version uint64) (Relationship, bool) {
	rel, err := c.cache.fetch(ctx, key)
	if err != nil {
		logging.FromContext(ctx).Warn("relationship reload after conflict failed", slog.Any("error", err))
		return Relationship{}, false
	}
	if _, ok := c.cache.CompareAndSwap(key.Viewer, key.Target, version, rel); !ok {
		_ = c.cache.Invalidate(ctx, key)
	}
	return rel, true
}

// rollback restores the pre-command entry. A stale restore keeps the value
// but forces the next read to reload.
func (c *Coordinator) rollback(ctx context.Context, key PairKey, version uint64, prev entry, existed, stale bool) {
	if !c.cache.restore(key, version, prev, existed) || stale {
		_ = c.cache.Invalidate(ctx, key)
	}
}

// committed invalidates the target's view of the pair and publishes the change.
func (c *Coordinator) committed(ctx context.Context, cmd Command, key PairKey, current, final Relationship) {
	logger := logging.FromContext(ctx)
	if err := c.cache.Invalidate(ctx, key.Reverse()); err != nil {
		logger.Warn("reverse relationship not invalidated", slog.Any("error", err))
	}
	if err := c.cache.forgetShared(ctx, key); err != nil {
		logger.Warn("shared relationship cache not cleared", slog.Any("error", err))
	}

	if c.events == nil {
		return
	}
	requestID := final.RequestID
	if requestID == "" {
		requestID = current.RequestID
	}
	event := Event{
		Command:    cmd,
		ViewerID:   key.Viewer,
		TargetID:   key.Target,
		RequestID:  requestID,
		Status:     final.Status,
		OccurredAt: c.now().UTC(),
	}
	if err := c.events.Publish(ctx, event); err != nil {
		logger.Warn("relationship event not published", slog.Any("error", err))
	}
}

func (c *Coordinator) reject(cmd Command, err error) error {
	c.metrics.Mutation(cmd, OutcomeRejected)
	return &MutationError{Command: cmd, Kind: KindPrecondition, Err: err}
}

func classify(ctx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, repositories.ErrForbidden):
		return KindUnauthorized
	case errors.Is(err, repositories.ErrNotFound):
		return KindNotFound
	default:
		return KindTransient
	}
}
