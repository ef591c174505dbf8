// Package workflow runs multi-step operations that span the document store,
// the blob store and the session cache with all-or-nothing semantics.
//
// Document writes go through one store transaction. Blob and cache effects
// cannot join that transaction, so they are registered on the Unit either
// as compensations (undone on rollback) or as after-commit effects (applied
// only once the transaction is durable).
package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.uber.org/multierr"
	"spoolhub/internal/util"
	"spoolhub/pkg/queue"
	"spoolhub/pkg/storage"
	"spoolhub/pkg/store"
)

const (
	outcomeCommitted    = "committed"
	outcomeRolledBack   = "rolled_back"
	outcomeCommitFailed = "commit_failed"
)

// Cleanup receives blob keys that a failed side effect left behind.
type Cleanup interface {
	Enqueue(ctx context.Context, kind queue.TaskKind, key, reason string) (queue.Task, error)
}

// Options carries the optional collaborators of a Runner.
type Options struct {
	Objects storage.ObjectStore
	Cleanup Cleanup
	Metrics *Metrics
}

// Runner executes workflows. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	store   store.Store
	objects storage.ObjectStore
	cleanup Cleanup
	metrics *Metrics
}

// NewRunner wires a runner over st.
func NewRunner(st store.Store, opts Options) *Runner {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Runner{store: st, objects: opts.Objects, cleanup: opts.Cleanup, metrics: metrics}
}

// Run opens a transaction, hands fn a Unit bound to it and settles the run:
// commit and after-commit effects on success, rollback and compensations
// otherwise. The error returned by fn is returned unchanged.
func (r *Runner) Run(ctx context.Context, name string, fn func(*Unit) error) (ids IDs, err error) {
	start := time.Now()
	logger := util.LoggerFromContext(ctx).With("workflow", name)

	tx, err := r.store.Begin(ctx)
	if err != nil {
		r.metrics.runs.WithLabelValues(name, outcomeRolledBack).Inc()
		return IDs{}, fmt.Errorf("begin %s: %w", name, err)
	}
	unit := &Unit{ctx: ctx, tx: tx, objects: r.objects}
	settled := false
	defer func() {
		if !settled {
			_ = tx.Rollback()
		}
		r.metrics.duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	// Side effects must run to completion even if the caller goes away.
	settleCtx := context.WithoutCancel(ctx)

	if stepErr := fn(unit); stepErr != nil {
		settled = true
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("rollback_failed", "err", rbErr)
		}
		r.compensate(settleCtx, logger, name, unit.compensations)
		r.metrics.runs.WithLabelValues(name, outcomeRolledBack).Inc()
		return IDs{}, stepErr
	}

	settled = true
	if commitErr := tx.Commit(); commitErr != nil {
		logger.Error("commit_failed", "err", commitErr)
		r.compensate(settleCtx, logger, name, unit.compensations)
		r.metrics.runs.WithLabelValues(name, outcomeCommitFailed).Inc()
		return IDs{}, fmt.Errorf("commit %s: %w", name, commitErr)
	}
	r.metrics.runs.WithLabelValues(name, outcomeCommitted).Inc()
	r.afterCommit(settleCtx, logger, name, unit.afterCommit)
	return unit.ids, nil
}

// compensate runs compensations newest first and never stops early.
func (r *Runner) compensate(ctx context.Context, logger *slog.Logger, name string, effects []effect) {
	var combined error
	for i := len(effects) - 1; i >= 0; i-- {
		e := effects[i]
		if err := e.run(ctx); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", e.desc, err))
			r.metrics.compensationFailures.WithLabelValues(name).Inc()
			r.enqueueOrphan(ctx, logger, name, e, err)
		}
	}
	if combined != nil {
		logger.Error("compensation_failed",
			"failures", len(multierr.Errors(combined)),
			"err", combined,
		)
	}
}

func (r *Runner) afterCommit(ctx context.Context, logger *slog.Logger, name string, effects []effect) {
	var combined error
	for _, e := range effects {
		if err := e.run(ctx); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", e.desc, err))
			r.metrics.afterCommitFailures.WithLabelValues(name).Inc()
			r.enqueueOrphan(ctx, logger, name, e, err)
		}
	}
	if combined != nil {
		logger.Error("after_commit_failed", "err", combined)
	}
}

func (r *Runner) enqueueOrphan(ctx context.Context, logger *slog.Logger, name string, e effect, cause error) {
	if e.orphan == nil {
		return
	}
	if r.cleanup == nil {
		logger.Warn("orphaned_blob", "kind", e.orphan.kind, "key", e.orphan.key)
		return
	}
	if _, err := r.cleanup.Enqueue(ctx, e.orphan.kind, e.orphan.key, name+": "+cause.Error()); err != nil {
		logger.Error("cleanup_enqueue_failed", "kind", e.orphan.kind, "key", e.orphan.key, "err", err)
		return
	}
	r.metrics.cleanupEnqueued.WithLabelValues(name, string(e.orphan.kind)).Inc()
}

type orphan struct {
	kind queue.TaskKind
	key  string
}

type effect struct {
	desc   string
	run    func(context.Context) error
	orphan *orphan
}

// Unit is the handle a workflow step function works through. It is owned by
// a single Run call.
type Unit struct {
	ctx           context.Context
	tx            store.Tx
	objects       storage.ObjectStore
	ids           IDs
	compensations []effect
	afterCommit   []effect
}

// Context is the request context of the run.
func (u *Unit) Context() context.Context { return u.ctx }

// Repos returns repositories bound to the run's transaction.
func (u *Unit) Repos() store.Repositories { return u.tx }

// Track records identifiers to return from Run.
func (u *Unit) Track(ids IDs) { u.ids = u.ids.Merge(ids) }

// Compensate registers fn to undo an applied side effect on rollback.
func (u *Unit) Compensate(desc string, fn func(context.Context) error) {
	u.compensations = append(u.compensations, effect{desc: desc, run: fn})
}

// AfterCommit registers fn to run once the transaction committed.
func (u *Unit) AfterCommit(desc string, fn func(context.Context) error) {
	u.afterCommit = append(u.afterCommit, effect{desc: desc, run: fn})
}

// PutObject uploads a blob now and deletes it again if the run rolls back.
func (u *Unit) PutObject(key string, r io.Reader, size int64, contentType string) error {
	if u.objects == nil {
		return fmt.Errorf("put %s: object store not configured", key)
	}
	if err := u.objects.Put(u.ctx, key, r, size, contentType); err != nil {
		return err
	}
	u.compensations = append(u.compensations, effect{
		desc:   "delete " + key,
		run:    func(ctx context.Context) error { return u.objects.Delete(ctx, key) },
		orphan: &orphan{kind: queue.KindObject, key: key},
	})
	return nil
}

// CopyObject duplicates a blob now and deletes the copy on rollback.
func (u *Unit) CopyObject(srcKey, dstKey string) error {
	if u.objects == nil {
		return fmt.Errorf("copy %s: object store not configured", srcKey)
	}
	if err := u.objects.Copy(u.ctx, srcKey, dstKey); err != nil {
		return err
	}
	u.compensations = append(u.compensations, effect{
		desc:   "delete " + dstKey,
		run:    func(ctx context.Context) error { return u.objects.Delete(ctx, dstKey) },
		orphan: &orphan{kind: queue.KindObject, key: dstKey},
	})
	return nil
}

// DeleteObjectAfterCommit removes a blob once the document change is durable.
func (u *Unit) DeleteObjectAfterCommit(key string) {
	u.afterCommit = append(u.afterCommit, effect{
		desc:   "delete " + key,
		run:    func(ctx context.Context) error { return u.deleteObject(ctx, key) },
		orphan: &orphan{kind: queue.KindObject, key: key},
	})
}

// DeletePrefixAfterCommit removes every blob under prefix once the document
// change is durable.
func (u *Unit) DeletePrefixAfterCommit(prefix string) {
	u.afterCommit = append(u.afterCommit, effect{
		desc:   "delete prefix " + prefix,
		run:    func(ctx context.Context) error { return u.deletePrefix(ctx, prefix) },
		orphan: &orphan{kind: queue.KindPrefix, key: prefix},
	})
}

func (u *Unit) deleteObject(ctx context.Context, key string) error {
	if u.objects == nil {
		return fmt.Errorf("delete %s: object store not configured", key)
	}
	return u.objects.Delete(ctx, key)
}

func (u *Unit) deletePrefix(ctx context.Context, prefix string) error {
	if u.objects == nil {
		return fmt.Errorf("delete prefix %s: object store not configured", prefix)
	}
	return u.objects.DeletePrefix(ctx, prefix)
}
