package services

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/reference"
)

// RewriteResult counts references of one group by what happened to them.
// Rewritten and Stale references are deleted; Conflicts and Unresolved are retained.
type RewriteResult struct {
	Rewritten  int
	Stale      int
	Conflicts  int
	Unresolved int
}

func (r *RewriteResult) Add(o RewriteResult) {
	r.Rewritten += o.Rewritten
	r.Stale += o.Stale
	r.Conflicts += o.Conflicts
	r.Unresolved += o.Unresolved
}

// Retained is the number of references left in the ledger.
func (r RewriteResult) Retained() int {
	return r.Conflicts + r.Unresolved
}

type BatchRewriter struct {
	registry  *ModelRegistry
	ledger    LedgerStore
	tx        Transactor
	batchSize int
}

func NewBatchRewriter(registry *ModelRegistry, ledger LedgerStore, tx Transactor, batchSize int) (*BatchRewriter, error) {
	if registry == nil {
		return nil, invalidConfig("model registry is required")
	}
	if ledger == nil {
		return nil, invalidConfig("ledger store is required")
	}
	if tx == nil {
		return nil, invalidConfig("transactor is required")
	}
	if batchSize <= 0 {
		return nil, invalidConfig("batch size must be > 0")
	}
	return &BatchRewriter{registry: registry, ledger: ledger, tx: tx, batchSize: batchSize}, nil
}

// Rewrite points every row referenced by group at target and deletes the references it handled.
// The group runs in one transaction; conflicting rows are isolated with savepoints.
func (b *BatchRewriter) Rewrite(ctx context.Context, run *Run, group reference.Group, target int64) (RewriteResult, error) {
	log := run.Logger()
	model, ok := b.registry.Lookup(group.Model)
	if !ok {
		log.Error(fmt.Sprintf(msgUnknownModel, group.Model, group.Column))
		return b.unresolved(ctx, run, group)
	}
	if !model.HasUserColumn(group.Column) {
		log.Error(fmt.Sprintf(msgUnknownColumn, group.Column, group.Model))
		return b.unresolved(ctx, run, group)
	}

	var total RewriteResult
	err := b.tx.InTx(ctx, func(txCtx context.Context) error {
		var afterID int64
		for {
			refs, err := b.ledger.ListReferences(txCtx, run.SourceUser.ID, group, afterID, b.batchSize)
			if err != nil {
				return errors.Wrap(err, "list placeholder references")
			}
			if len(refs) == 0 {
				return nil
			}
			afterID = refs[len(refs)-1].ID

			res, err := b.rewriteBatch(txCtx, run, model, group, refs, target)
			if err != nil {
				return err
			}
			total.Add(res)

			if len(refs) < b.batchSize {
				return nil
			}
		}
	})
	if err != nil {
		return RewriteResult{}, errors.Wrapf(err, "rewrite %s", group)
	}

	recordReferences(group.Model, group.Column, "rewritten", total.Rewritten)
	recordReferences(group.Model, group.Column, "stale", total.Stale)
	recordReferences(group.Model, group.Column, "conflict", total.Conflicts)
	recordReferences(group.Model, group.Column, "unresolved", total.Unresolved)
	return total, nil
}

func (b *BatchRewriter) unresolved(ctx context.Context, run *Run, group reference.Group) (RewriteResult, error) {
	n, err := b.ledger.CountReferences(ctx, run.SourceUser.ID, group)
	if err != nil {
		return RewriteResult{}, errors.Wrap(err, "count placeholder references")
	}
	recordReferences(group.Model, group.Column, "unresolved", int(n))
	return RewriteResult{Unresolved: int(n)}, nil
}

func (b *BatchRewriter) rewriteBatch(ctx context.Context, run *Run, model RecordModel, group reference.Group, refs []*reference.Reference, target int64) (RewriteResult, error) {
	var res RewriteResult
	placeholder := run.SourceUser.PlaceholderUserID

	addressable := make([]*reference.Reference, 0, len(refs))
	for _, ref := range refs {
		if ref.Key.Validate() != nil || !model.AcceptsKey(ref.Key) {
			run.Logger().Error(fmt.Sprintf(msgUnaddressableKey, group, ref.ID, model.Name()))
			res.Unresolved++
			continue
		}
		addressable = append(addressable, ref)
	}
	if len(addressable) == 0 {
		return res, nil
	}

	var affected int64
	err := b.tx.InSavepoint(ctx, func(spCtx context.Context) error {
		var err error
		affected, err = model.RewriteRows(spCtx, group.Column, reference.Keys(addressable), placeholder, target)
		return err
	})
	if err == nil {
		res.Rewritten += int(affected)
		res.Stale += len(addressable) - int(affected)
		if _, err := b.ledger.DeleteReferences(ctx, reference.IDs(addressable)); err != nil {
			return res, errors.Wrap(err, "delete placeholder references")
		}
		return res, nil
	}
	if !IsIntegrityViolation(err) {
		return res, err
	}

	// Some row in the batch conflicts; retry row by row to isolate it.
	done := make([]int64, 0, len(addressable))
	for _, ref := range addressable {
		var n int64
		err := b.tx.InSavepoint(ctx, func(spCtx context.Context) error {
			var err error
			n, err = model.RewriteRows(spCtx, group.Column, []reference.Key{ref.Key}, placeholder, target)
			return err
		})
		switch {
		case err == nil:
			if n > 0 {
				res.Rewritten++
			} else {
				res.Stale++
			}
			done = append(done, ref.ID)
		case IsIntegrityViolation(err):
			res.Conflicts++
			run.warnConflict()
		default:
			return res, err
		}
	}
	if len(done) > 0 {
		if _, err := b.ledger.DeleteReferences(ctx, done); err != nil {
			return res, errors.Wrap(err, "delete placeholder references")
		}
	}
	return res, nil
}
