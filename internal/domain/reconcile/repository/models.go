// Package repository holds the reconciliation data model and the record store
// contract used by the matcher, review, commit and learning packages.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus is the review state of a staged bank row.
type MatchStatus string

const (
	StatusUnmatched MatchStatus = "UNMATCHED"
	StatusPotential MatchStatus = "POTENTIAL"
	StatusMatched   MatchStatus = "MATCHED"
	StatusReviewed  MatchStatus = "REVIEWED"
	StatusVerified  MatchStatus = "VERIFIED"
)

// Statuses lists every status in review order.
var Statuses = []MatchStatus{StatusUnmatched, StatusPotential, StatusMatched, StatusReviewed, StatusVerified}

// Decided reports whether a reviewer or auto-accept has settled the row.
func (s MatchStatus) Decided() bool {
	return s == StatusMatched || s == StatusReviewed || s == StatusVerified
}

// StagedRef identifies a staged row by id and current status.
type StagedRef struct {
	ID     uuid.UUID
	Status MatchStatus
}

// Confidence is the matcher's tier for a proposed match.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceNone   Confidence = "NONE"
)

// TxType is inferred from the amount sign or the statement's type column.
type TxType string

const (
	TypeIncome      TxType = "income"
	TypeExpenditure TxType = "expenditure"
	TypeCapital     TxType = "capital"
)

// ReasonCode explains one component of a match score.
type ReasonCode string

const (
	ReasonExactAmount        ReasonCode = "EXACT_AMOUNT"
	ReasonDescriptionOverlap ReasonCode = "DESCRIPTION_OVERLAP"
	ReasonDateProximity      ReasonCode = "DATE_PROXIMITY"
)

// Reason is a parameterized reason code.
type Reason struct {
	Code    ReasonCode `json:"code"`
	Days    int        `json:"days,omitempty"`
	Overlap float64    `json:"overlap,omitempty"`
}

// Codes returns just the codes of reasons, in order.
func Codes(reasons []Reason) []ReasonCode {
	codes := make([]ReasonCode, len(reasons))
	for i, r := range reasons {
		codes[i] = r.Code
	}
	return codes
}

// ImportedTransaction is a staged bank-statement row awaiting review and commit.
type ImportedTransaction struct {
	ID                    uuid.UUID   `json:"id"`
	UserID                uuid.UUID   `json:"user_id"`
	AccountID             uuid.UUID   `json:"account_id"`
	Line                  int         `json:"line"`
	Date                  time.Time   `json:"date"`
	AmountMinor           int64       `json:"amount_minor"`
	CurrencyCode          string      `json:"currency_code"`
	RawDescription        string      `json:"raw_description"`
	NormalizedDescription string      `json:"normalized_description"`
	Fingerprint           string      `json:"fingerprint"`
	Type                  TxType      `json:"type"`
	BalanceMinor          *int64      `json:"balance_minor,omitempty"`
	MatchStatus           MatchStatus `json:"match_status"`
	MatchConfidence       Confidence  `json:"match_confidence"`
	MatchScore            float64     `json:"match_score"`
	MatchedExistingID     *uuid.UUID  `json:"matched_existing_id,omitempty"`
	MatchReasons          []Reason    `json:"match_reasons"`
	SuggestedCategoryID   *uuid.UUID  `json:"suggested_category_id,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Transaction sources.
const (
	SourceManual = "manual"
	SourceBank   = "bank"
)

// Transaction is a canonical account transaction.
type Transaction struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	AccountID    uuid.UUID  `json:"account_id"`
	Date         time.Time  `json:"date"`
	AmountMinor  int64      `json:"amount_minor"`
	CurrencyCode string     `json:"currency_code"`
	Description  string     `json:"description"`
	CategoryID   *uuid.UUID `json:"category_id,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	Source       string     `json:"source"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MatchUpdate is the matcher's write to a staged row.
type MatchUpdate struct {
	Status     MatchStatus
	Confidence Confidence
	Score      float64
	ExistingID *uuid.UUID
	Reasons    []Reason
}

// ImportedFilter narrows ListImported. Zero value selects all rows.
type ImportedFilter struct {
	Statuses []MatchStatus
}

// TransactionFilter narrows ListTransactions. Zero fields are ignored.
type TransactionFilter struct {
	UserID               uuid.UUID
	AccountID            uuid.UUID
	From                 time.Time
	To                   time.Time
	CategorizedOnly      bool
	MinDescriptionLength int
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
