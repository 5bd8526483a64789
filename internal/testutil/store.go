// Package testutil holds test doubles shared by the reconciliation packages.
package testutil

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// MemoryStore is an in-memory repository.Store. WithTx snapshots the whole
// store and restores it when fn fails, which is enough to observe rollback.
// Failures can be injected per operation name (the method name).
type MemoryStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	imported map[uuid.UUID]repository.ImportedTransaction
	txs      map[uuid.UUID]repository.Transaction
	seq      map[uuid.UUID]int64
	next     int64
	calls    map[string]int
	faults   map[string]fault
	now      func() time.Time
}

type fault struct {
	after int
	err   error
}

var _ repository.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		imported: make(map[uuid.UUID]repository.ImportedTransaction),
		txs:      make(map[uuid.UUID]repository.Transaction),
		seq:      make(map[uuid.UUID]int64),
		calls:    make(map[string]int),
		faults:   make(map[string]fault),
		now:      time.Now,
	}
}

// FailOn makes op fail with err once it has succeeded after times.
func (s *MemoryStore) FailOn(op string, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = fault{after: after, err: err}
}

// ClearFaults removes every injected failure.
func (s *MemoryStore) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// Calls returns how many times op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// check records a call and returns the injected error, if any. Callers hold mu.
func (s *MemoryStore) check(op string) error {
	n := s.calls[op]
	s.calls[op] = n + 1
	if f, ok := s.faults[op]; ok && n >= f.after {
		return f.err
	}
	return nil
}

func (s *MemoryStore) stamp(id uuid.UUID) {
	if _, ok := s.seq[id]; !ok {
		s.next++
		s.seq[id] = s.next
	}
}

// Seed adds canonical transactions without failure injection.
func (s *MemoryStore) Seed(txs ...repository.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		if tx.ID == uuid.Nil {
			tx.ID = uuid.New()
		}
		s.txs[tx.ID] = tx
		s.stamp(tx.ID)
	}
}

// SeedImported adds staged rows without failure injection.
func (s *MemoryStore) SeedImported(rows ...repository.ImportedTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		s.imported[row.ID] = row
		s.stamp(row.ID)
	}
}

// Imported returns the account's staged rows in line order.
func (s *MemoryStore) Imported(accountID uuid.UUID) []repository.ImportedTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listImported(accountID, repository.ImportedFilter{})
}

// Transactions returns the account's canonical transactions in date order.
func (s *MemoryStore) Transactions(accountID uuid.UUID) []repository.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listTransactions(repository.TransactionFilter{AccountID: accountID})
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	if err := s.check("WithTx"); err != nil {
		s.mu.Unlock()
		return err
	}
	imported := maps.Clone(s.imported)
	txs := maps.Clone(s.txs)
	seq := maps.Clone(s.seq)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.imported, s.txs, s.seq = imported, txs, seq
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) InsertImported(ctx context.Context, rows []*repository.ImportedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("InsertImported"); err != nil {
		return err
	}
	now := s.now()
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		row.CreatedAt, row.UpdatedAt = now, now
		s.imported[row.ID] = *row
		s.stamp(row.ID)
	}
	return nil
}

func (s *MemoryStore) listImported(accountID uuid.UUID, filter repository.ImportedFilter) []repository.ImportedTransaction {
	var out []repository.ImportedTransaction
	for _, row := range s.imported {
		if row.AccountID != accountID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, row.MatchStatus) {
			continue
		}
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b repository.ImportedTransaction) int {
		return cmp.Or(cmp.Compare(a.Line, b.Line), cmp.Compare(s.seq[a.ID], s.seq[b.ID]))
	})
	return out
}

func (s *MemoryStore) ListImported(ctx context.Context, accountID uuid.UUID, filter repository.ImportedFilter) ([]repository.ImportedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListImported"); err != nil {
		return nil, err
	}
	return s.listImported(accountID, filter), nil
}

func (s *MemoryStore) GetImported(ctx context.Context, id uuid.UUID) (*repository.ImportedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetImported"); err != nil {
		return nil, err
	}
	row, ok := s.imported[id]
	if !ok {
		return nil, apperror.NewNotFound("imported transaction", id)
	}
	return &row, nil
}

func (s *MemoryStore) UpdateImportedMatch(ctx context.Context, id uuid.UUID, update repository.MatchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateImportedMatch"); err != nil {
		return err
	}
	row, ok := s.imported[id]
	if !ok {
		return apperror.NewNotFound("imported transaction", id)
	}
	row.MatchStatus = update.Status
	row.MatchConfidence = update.Confidence
	row.MatchScore = update.Score
	row.MatchedExistingID = update.ExistingID
	row.MatchReasons = update.Reasons
	row.UpdatedAt = s.now()
	s.imported[id] = row
	return nil
}

func (s *MemoryStore) UpdateImportedStatus(ctx context.Context, id uuid.UUID, from, to repository.MatchStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateImportedStatus"); err != nil {
		return false, err
	}
	row, ok := s.imported[id]
	if !ok || row.MatchStatus != from {
		return false, nil
	}
	row.MatchStatus = to
	row.UpdatedAt = s.now()
	s.imported[id] = row
	return true, nil
}

func (s *MemoryStore) UpdateSuggestedCategory(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateSuggestedCategory"); err != nil {
		return err
	}
	row, ok := s.imported[id]
	if !ok {
		return apperror.NewNotFound("imported transaction", id)
	}
	row.SuggestedCategoryID = categoryID
	s.imported[id] = row
	return nil
}

func (s *MemoryStore) DeleteImported(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteImported"); err != nil {
		return err
	}
	if _, ok := s.imported[id]; !ok {
		return apperror.NewNotFound("imported transaction", id)
	}
	delete(s.imported, id)
	return nil
}

func (s *MemoryStore) DeleteAllImported(ctx context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteAllImported"); err != nil {
		return 0, err
	}
	var n int64
	for id, row := range s.imported {
		if row.AccountID == accountID {
			delete(s.imported, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountImportedByStatus(ctx context.Context, accountID uuid.UUID) (map[repository.MatchStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CountImportedByStatus"); err != nil {
		return nil, err
	}
	counts := make(map[repository.MatchStatus]int)
	for _, row := range s.imported {
		if row.AccountID == accountID {
			counts[row.MatchStatus]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) ImportedFingerprints(ctx context.Context, accountID uuid.UUID) (map[string][]repository.StagedRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ImportedFingerprints"); err != nil {
		return nil, err
	}
	out := make(map[string][]repository.StagedRef)
	for _, row := range s.listImported(accountID, repository.ImportedFilter{}) {
		out[row.Fingerprint] = append(out[row.Fingerprint], repository.StagedRef{ID: row.ID, Status: row.MatchStatus})
	}
	return out, nil
}

func (s *MemoryStore) listTransactions(filter repository.TransactionFilter) []repository.Transaction {
	var out []repository.Transaction
	for _, tx := range s.txs {
		switch {
		case filter.UserID != uuid.Nil && tx.UserID != filter.UserID,
			filter.AccountID != uuid.Nil && tx.AccountID != filter.AccountID,
			!filter.From.IsZero() && tx.Date.Before(filter.From),
			!filter.To.IsZero() && tx.Date.After(filter.To),
			filter.CategorizedOnly && tx.CategoryID == nil,
			utf8.RuneCountInString(tx.Description) < filter.MinDescriptionLength:
			continue
		}
		out = append(out, tx)
	}
	slices.SortFunc(out, func(a, b repository.Transaction) int {
		return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(s.seq[a.ID], s.seq[b.ID]), bytes.Compare(a.ID[:], b.ID[:]))
	})
	return out
}

func (s *MemoryStore) ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]repository.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListTransactions"); err != nil {
		return nil, err
	}
	return s.listTransactions(filter), nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id uuid.UUID) (*repository.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetTransaction"); err != nil {
		return nil, err
	}
	tx, ok := s.txs[id]
	if !ok {
		return nil, apperror.NewNotFound("transaction", id)
	}
	return &tx, nil
}

func (s *MemoryStore) GetTransactions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]repository.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetTransactions"); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]repository.Transaction, len(ids))
	for _, id := range ids {
		if tx, ok := s.txs[id]; ok {
			out[id] = tx
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertTransaction(ctx context.Context, tx *repository.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("InsertTransaction"); err != nil {
		return err
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("duplicate transaction id %s", tx.ID)
	}
	now := s.now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	s.txs[tx.ID] = *tx
	s.stamp(tx.ID)
	return nil
}

func (s *MemoryStore) UpdateTransactionCategory(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID) (*repository.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateTransactionCategory"); err != nil {
		return nil, err
	}
	tx, ok := s.txs[id]
	if !ok {
		return nil, apperror.NewNotFound("transaction", id)
	}
	tx.CategoryID = categoryID
	tx.UpdatedAt = s.now()
	s.txs[id] = tx
	return &tx, nil
}

func (s *MemoryStore) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteTransaction"); err != nil {
		return err
	}
	if _, ok := s.txs[id]; !ok {
		return apperror.NewNotFound("transaction", id)
	}
	delete(s.txs, id)
	return nil
}

func (s *MemoryStore) DeleteAllTransactions(ctx context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteAllTransactions"); err != nil {
		return 0, err
	}
	var n int64
	for id, tx := range s.txs {
		if tx.AccountID == accountID {
			delete(s.txs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountTransactions(ctx context.Context, accountID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CountTransactions"); err != nil {
		return 0, err
	}
	n := 0
	for _, tx := range s.txs {
		if tx.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListAccountIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListAccountIDs"); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, tx := range s.txs {
		if tx.UserID == userID {
			ids = append(ids, tx.AccountID)
		}
	}
	for _, row := range s.imported {
		if row.UserID == userID {
			ids = append(ids, row.AccountID)
		}
	}
	return sortedUnique(ids), nil
}

func (s *MemoryStore) ListOwners(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListOwners"); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, tx := range s.txs {
		ids = append(ids, tx.UserID)
	}
	return sortedUnique(ids), nil
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(ids)
}
