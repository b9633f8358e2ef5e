package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/store"
)

// ErrUnchanged tells Mutate the callback decided not to modify the record.
var ErrUnchanged = errors.New("ledger: record unchanged")

type Filter struct {
	StudentRefs []string
	Status      feerecord.Status
	Period      string
	Limit       int
	Offset      int
}

// RepositoryAPI is the persistence contract for fee records. Update and
// Delete are conditional on the record's Version and return
// internal.ErrConcurrentModification when another writer got there first.
type RepositoryAPI interface {
	CreateIfAbsent(ctx context.Context, r *feerecord.FeeRecord) (bool, error)
	GetByID(ctx context.Context, id string) (*feerecord.FeeRecord, error)
	GetByOrderRef(ctx context.Context, orderRef string) (*feerecord.FeeRecord, error)
	List(ctx context.Context, f Filter) ([]*feerecord.FeeRecord, int64, error)
	ListOverdue(ctx context.Context, asOf time.Time, limit, offset int) ([]*feerecord.FeeRecord, error)
	HasUnpaidBefore(ctx context.Context, studentRef, period string) (bool, error)
	Update(ctx context.Context, r *feerecord.FeeRecord) error
	Delete(ctx context.Context, r *feerecord.FeeRecord) error
}

// Store serializes state transitions per record on top of a repository.
type Store struct {
	repo   RepositoryAPI
	tx     store.TxRunner
	locks  *Locker
	logger *slog.Logger
}

func NewStore(repo RepositoryAPI, tx store.TxRunner, logger *slog.Logger) *Store {
	if tx == nil {
		tx = store.NoTx{}
	}
	return &Store{
		repo:   repo,
		tx:     tx,
		locks:  NewLocker(),
		logger: logger,
	}
}

func (s *Store) Repo() RepositoryAPI {
	return s.repo
}

func (s *Store) Get(ctx context.Context, id string) (*feerecord.FeeRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// Mutate loads the record under its lock, applies fn and persists the
// result in one transaction. fn receives the transactional context so that
// related writes commit or roll back with the record. Returning ErrUnchanged
// from fn skips the write and yields the record as loaded.
func (s *Store) Mutate(ctx context.Context, id string, fn func(ctx context.Context, r *feerecord.FeeRecord) error) (*feerecord.FeeRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var out *feerecord.FeeRecord
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}

		if err := fn(txCtx, r); err != nil {
			if errors.Is(err, ErrUnchanged) {
				out = r
				return nil
			}
			return err
		}

		r.Recompute()
		if err := s.repo.Update(txCtx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); !ok {
			s.logger.Error("fee record mutation failed", "record_id", id, "error", err)
			return nil, internal.NewInternalError("failed to update fee record", err)
		}
		return nil, err
	}
	return out, nil
}

// Remove deletes the record under its lock once check approves it. check runs
// inside the transaction, so writes it makes through txCtx roll back with a
// failed delete and a check error aborts the delete.
func (s *Store) Remove(ctx context.Context, id string, check func(txCtx context.Context, r *feerecord.FeeRecord) error) (*feerecord.FeeRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var removed *feerecord.FeeRecord
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := check(txCtx, r); err != nil {
			return err
		}
		if err := s.repo.Delete(txCtx, r); err != nil {
			return err
		}
		removed = r
		return nil
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); !ok {
			s.logger.Error("fee record delete failed", "record_id", id, "error", err)
			return nil, internal.NewInternalError("failed to delete fee record", err)
		}
		return nil, err
	}
	return removed, nil
}
