package categorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// PatternStore persists categorization patterns.
type PatternStore interface {
	ListPatterns(ctx context.Context, userID uuid.UUID) ([]Pattern, error)
	// UpsertPattern creates the pattern from count transactions or, when it
	// already points at categoryID, reinforces it. It reports whether the row
	// was created and returns an *apperror.ConflictError when the pattern is
	// bound to another category.
	UpsertPattern(ctx context.Context, userID uuid.UUID, pattern string, categoryID uuid.UUID, count int) (*Pattern, bool, error)
	TouchPatterns(ctx context.Context, ids []uuid.UUID) error
}

// CategoryStore reads categories.
type CategoryStore interface {
	GetCategory(ctx context.Context, userID, id uuid.UUID) (*Category, error)
	ListCategories(ctx context.Context, userID uuid.UUID) ([]Category, error)
}

// Repository implements PatternStore and CategoryStore on PostgreSQL.
type Repository struct {
	db repository.DB
}

// NewRepository creates a categorization repository.
func NewRepository(db repository.DB) *Repository {
	return &Repository{db: db}
}

var (
	_ PatternStore  = (*Repository)(nil)
	_ CategoryStore = (*Repository)(nil)
)

const patternColumns = `id, user_id, pattern, category_id, confidence_score, match_count,
	last_matched, created_at, updated_at`

func (r *Repository) ListPatterns(ctx context.Context, userID uuid.UUID) ([]Pattern, error) {
	query := `SELECT ` + patternColumns + `
		FROM categorization_patterns
		WHERE user_id = $1
		ORDER BY confidence_score DESC, pattern`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Pattern, &p.CategoryID, &p.ConfidenceScore,
			&p.MatchCount, &p.LastMatched, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// UpsertPattern is a single statement, so concurrent learners cannot both
// create the same pattern. The conditional DO UPDATE returns no row when the
// pattern belongs to another category.
func (r *Repository) UpsertPattern(ctx context.Context, userID uuid.UUID, pattern string, categoryID uuid.UUID, count int) (*Pattern, bool, error) {
	query := `
		INSERT INTO categorization_patterns (user_id, pattern, category_id, confidence_score, match_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, pattern) DO UPDATE SET
			match_count = categorization_patterns.match_count + EXCLUDED.match_count,
			confidence_score = LEAST(categorization_patterns.confidence_score + $6, $7),
			updated_at = now()
		WHERE categorization_patterns.category_id = EXCLUDED.category_id
		RETURNING ` + patternColumns + `, (xmax = 0) AS inserted
	`

	var p Pattern
	var inserted bool
	err := r.db.QueryRow(ctx, query,
		userID, pattern, categoryID, InitialConfidence(count), count, reinforceConfidence, MaxConfidence,
	).Scan(
		&p.ID, &p.UserID, &p.Pattern, &p.CategoryID, &p.ConfidenceScore,
		&p.MatchCount, &p.LastMatched, &p.CreatedAt, &p.UpdatedAt, &inserted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, r.conflict(ctx, userID, pattern, categoryID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert pattern %q: %w", pattern, err)
	}
	return &p, inserted, nil
}

func (r *Repository) conflict(ctx context.Context, userID uuid.UUID, pattern string, requested uuid.UUID) error {
	var existing uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT category_id FROM categorization_patterns WHERE user_id = $1 AND pattern = $2`,
		userID, pattern,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to load conflicting pattern %q: %w", pattern, err)
	}
	return &apperror.ConflictError{
		Pattern:             pattern,
		ExistingCategoryID:  existing.String(),
		RequestedCategoryID: requested.String(),
	}
}

// TouchPatterns stamps last_matched on patterns that produced a suggestion.
func (r *Repository) TouchPatterns(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE categorization_patterns SET last_matched = now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to touch patterns: %w", err)
	}
	return nil
}

func (r *Repository) GetCategory(ctx context.Context, userID, id uuid.UUID) (*Category, error) {
	var c Category
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, name, type, color FROM categories WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &c.Color)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

func (r *Repository) ListCategories(ctx context.Context, userID uuid.UUID) ([]Category, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, name, type, color FROM categories WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &c.Color); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
