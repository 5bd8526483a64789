package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// DB is the subset of pgx shared by *pgxpool.Pool, pgx.Tx and pgxmock.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store over a pool or an open transaction.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&PostgresStore{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("failed to rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const importedColumns = `id, user_id, account_id, line, date, amount_minor, currency_code,
	raw_description, normalized_description, fingerprint, type, balance_minor,
	match_status, match_confidence, match_score, matched_existing_id, match_reasons,
	suggested_category_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanImported(row scanner) (ImportedTransaction, error) {
	var it ImportedTransaction
	var reasons []byte
	err := row.Scan(
		&it.ID, &it.UserID, &it.AccountID, &it.Line, &it.Date, &it.AmountMinor, &it.CurrencyCode,
		&it.RawDescription, &it.NormalizedDescription, &it.Fingerprint, &it.Type, &it.BalanceMinor,
		&it.MatchStatus, &it.MatchConfidence, &it.MatchScore, &it.MatchedExistingID, &reasons,
		&it.SuggestedCategoryID, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return it, err
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &it.MatchReasons); err != nil {
			return it, fmt.Errorf("failed to decode match reasons: %w", err)
		}
	}
	return it, nil
}

func encodeReasons(reasons []Reason) ([]byte, error) {
	if reasons == nil {
		reasons = []Reason{}
	}
	return json.Marshal(reasons)
}

// InsertImported stages rows, filling in their ids and timestamps.
func (s *PostgresStore) InsertImported(ctx context.Context, rows []*ImportedTransaction) error {
	query := `
		INSERT INTO imported_transactions (
			user_id, account_id, line, date, amount_minor, currency_code,
			raw_description, normalized_description, fingerprint, type, balance_minor,
			match_status, match_confidence, match_score, matched_existing_id, match_reasons,
			suggested_category_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`

	for _, it := range rows {
		reasons, err := encodeReasons(it.MatchReasons)
		if err != nil {
			return err
		}
		err = s.db.QueryRow(ctx, query,
			it.UserID, it.AccountID, it.Line, it.Date, it.AmountMinor, it.CurrencyCode,
			it.RawDescription, it.NormalizedDescription, it.Fingerprint, it.Type, it.BalanceMinor,
			it.MatchStatus, it.MatchConfidence, it.MatchScore, it.MatchedExistingID, reasons,
			it.SuggestedCategoryID,
		).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert imported row %d: %w", it.Line, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListImported(ctx context.Context, accountID uuid.UUID, filter ImportedFilter) ([]ImportedTransaction, error) {
	query := `SELECT ` + importedColumns + ` FROM imported_transactions WHERE account_id = $1`
	args := []any{accountID}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += ` AND match_status = ANY($2)`
		args = append(args, statuses)
	}
	query += ` ORDER BY line, created_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list imported transactions: %w", err)
	}
	defer rows.Close()

	var result []ImportedTransaction
	for rows.Next() {
		it, err := scanImported(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetImported(ctx context.Context, id uuid.UUID) (*ImportedTransaction, error) {
	query := `SELECT ` + importedColumns + ` FROM imported_transactions WHERE id = $1`

	it, err := scanImported(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("imported transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get imported transaction: %w", err)
	}
	return &it, nil
}

func (s *PostgresStore) UpdateImportedMatch(ctx context.Context, id uuid.UUID, update MatchUpdate) error {
	reasons, err := encodeReasons(update.Reasons)
	if err != nil {
		return err
	}
	query := `
		UPDATE imported_transactions
		SET match_status = $2, match_confidence = $3, match_score = $4,
			matched_existing_id = $5, match_reasons = $6, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, update.Status, update.Confidence, update.Score, update.ExistingID, reasons)
	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("imported transaction", id)
	}
	return nil
}

func (s *PostgresStore) UpdateImportedStatus(ctx context.Context, id uuid.UUID, from, to MatchStatus) (bool, error) {
	query := `
		UPDATE imported_transactions
		SET match_status = $3, updated_at = now()
		WHERE id = $1 AND match_status = $2
	`
	tag, err := s.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateSuggestedCategory(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID) error {
	query := `UPDATE imported_transactions SET suggested_category_id = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, categoryID)
	if err != nil {
		return fmt.Errorf("failed to update suggested category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("imported transaction", id)
	}
	return nil
}

func (s *PostgresStore) DeleteImported(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM imported_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete imported transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("imported transaction", id)
	}
	return nil
}

func (s *PostgresStore) DeleteAllImported(ctx context.Context, accountID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM imported_transactions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear imported transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountImportedByStatus(ctx context.Context, accountID uuid.UUID) (map[MatchStatus]int, error) {
	query := `
		SELECT match_status, COUNT(*)
		FROM imported_transactions
		WHERE account_id = $1
		GROUP BY match_status
	`
	rows, err := s.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count imported transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[MatchStatus]int, len(Statuses))
	for rows.Next() {
		var status MatchStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) ImportedFingerprints(ctx context.Context, accountID uuid.UUID) (map[string][]StagedRef, error) {
	query := `
		SELECT fingerprint, id, match_status
		FROM imported_transactions
		WHERE account_id = $1
		ORDER BY fingerprint, line, created_at
	`
	rows, err := s.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]StagedRef)
	for rows.Next() {
		var fp string
		var ref StagedRef
		if err := rows.Scan(&fp, &ref.ID, &ref.Status); err != nil {
			return nil, err
		}
		result[fp] = append(result[fp], ref)
	}
	return result, rows.Err()
}

const transactionColumns = `id, user_id, account_id, date, amount_minor, currency_code,
	description, category_id, notes, source, created_at, updated_at`

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.AccountID, &t.Date, &t.AmountMinor, &t.CurrencyCode,
		&t.Description, &t.CategoryID, &t.Notes, &t.Source, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (s *PostgresStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != uuid.Nil {
		add("user_id = $%d", filter.UserID)
	}
	if filter.AccountID != uuid.Nil {
		add("account_id = $%d", filter.AccountID)
	}
	if !filter.From.IsZero() {
		add("date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("date <= $%d", filter.To)
	}
	if filter.CategorizedOnly {
		where = append(where, "category_id IS NOT NULL")
	}
	if filter.MinDescriptionLength > 0 {
		add("char_length(description) >= $%d", filter.MinDescriptionLength)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, created_at, id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTransactions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Transaction, error) {
	result := make(map[uuid.UUID]Transaction, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ANY($1)`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result[t.ID] = t
	}
	return result, rows.Err()
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO transactions (
			user_id, account_id, date, amount_minor, currency_code, description, category_id, notes, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		t.UserID, t.AccountID, t.Date, t.AmountMinor, t.CurrencyCode,
		t.Description, t.CategoryID, t.Notes, t.Source,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTransactionCategory(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID) (*Transaction, error) {
	query := `
		UPDATE transactions SET category_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + transactionColumns

	t, err := scanTransaction(s.db.QueryRow(ctx, query, id, categoryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction category: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("transaction", id)
	}
	return nil
}

func (s *PostgresStore) DeleteAllTransactions(ctx context.Context, accountID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM transactions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountTransactions(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListAccountIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `SELECT id FROM accounts WHERE user_id = $1 ORDER BY id`, userID)
}

func (s *PostgresStore) ListOwners(ctx context.Context) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `SELECT DISTINCT user_id FROM accounts ORDER BY user_id`)
}

func (s *PostgresStore) listIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
