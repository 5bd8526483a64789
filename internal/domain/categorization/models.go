package categorization

import (
	"time"

	"github.com/google/uuid"
)

// Pattern is a learned or registered mapping from a description regex to a
// category. (UserID, Pattern) is unique.
type Pattern struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Pattern         string     `json:"pattern"`
	CategoryID      uuid.UUID  `json:"category_id"`
	ConfidenceScore int        `json:"confidence_score"`
	MatchCount      int        `json:"match_count"`
	LastMatched     *time.Time `json:"last_matched,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Category is read-only here.
type Category struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Color  string    `json:"color"`
}

// Suggestion is one pattern hit for a description.
type Suggestion struct {
	PatternID  uuid.UUID `json:"patternId"`
	Pattern    string    `json:"pattern"`
	CategoryID uuid.UUID `json:"categoryId"`
	Confidence int       `json:"confidence"`
}

// PatternSummary is a pattern as reported in learning results.
type PatternSummary struct {
	Pattern         string    `json:"pattern"`
	CategoryID      uuid.UUID `json:"categoryId"`
	ConfidenceScore int       `json:"confidenceScore"`
	MatchCount      int       `json:"matchCount"`
}

// LearningResult summarizes a learning pass.
type LearningResult struct {
	PatternsCreated   int              `json:"patternsCreated"`
	PatternsUpdated   int              `json:"patternsUpdated"`
	PatternsSkipped   int              `json:"patternsSkipped"`
	TotalTransactions int              `json:"totalTransactions"`
	TopPatterns       []PatternSummary `json:"topPatterns"`
}

// Confidence bounds and steps for learned patterns.
const (
	MaxConfidence       = 100
	baseConfidence      = 50
	confidencePerMatch  = 10
	reinforceConfidence = 10
)

// InitialConfidence is the confidence of a pattern created from count
// transactions.
func InitialConfidence(count int) int {
	return min(baseConfidence+confidencePerMatch*count, MaxConfidence)
}

// Reinforced is the confidence after a pattern is learned again for the same
// category.
func Reinforced(confidence int) int {
	return min(confidence+reinforceConfidence, MaxConfidence)
}
