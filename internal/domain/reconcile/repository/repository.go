package repository

import (
	"context"

	"github.com/google/uuid"
)

// ImportedStore persists staged bank rows.
type ImportedStore interface {
	InsertImported(ctx context.Context, rows []*ImportedTransaction) error
	ListImported(ctx context.Context, accountID uuid.UUID, filter ImportedFilter) ([]ImportedTransaction, error)
	GetImported(ctx context.Context, id uuid.UUID) (*ImportedTransaction, error)
	UpdateImportedMatch(ctx context.Context, id uuid.UUID, update MatchUpdate) error
	// UpdateImportedStatus moves a row from one status to another. It returns
	// false when the row no longer has the expected status.
	UpdateImportedStatus(ctx context.Context, id uuid.UUID, from, to MatchStatus) (bool, error)
	UpdateSuggestedCategory(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID) error
	DeleteImported(ctx context.Context, id uuid.UUID) error
	DeleteAllImported(ctx context.Context, accountID uuid.UUID) (int64, error)
	CountImportedByStatus(ctx context.Context, accountID uuid.UUID) (map[MatchStatus]int, error)
	// ImportedFingerprints maps each staged fingerprint of the account to the
	// rows carrying it, in line order.
	ImportedFingerprints(ctx context.Context, accountID uuid.UUID) (map[string][]StagedRef, error)
}

// TransactionStore persists canonical transactions.
type TransactionStore interface {
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetTransactions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Transaction, error)
	InsertTransaction(ctx context.Context, tx *Transaction) error
	UpdateTransactionCategory(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID) (*Transaction, error)
	DeleteTransaction(ctx context.Context, id uuid.UUID) error
	DeleteAllTransactions(ctx context.Context, accountID uuid.UUID) (int64, error)
	CountTransactions(ctx context.Context, accountID uuid.UUID) (int, error)
	ListAccountIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListOwners(ctx context.Context) ([]uuid.UUID, error)
}

// Store is the record store used by reconciliation. WithTx runs fn against a
// Store bound to a single database transaction that is committed when fn
// returns nil and rolled back otherwise.
type Store interface {
	ImportedStore
	TransactionStore
	WithTx(ctx context.Context, fn func(Store) error) error
}
