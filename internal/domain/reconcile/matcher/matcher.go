// Package matcher proposes, for each staged bank row, the existing canonical
// transaction it most likely duplicates. It only reads; persisting a match is
// the caller's job.
package matcher

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/normalizer"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/config"
)

const (
	// Tokens shorter than this must match exactly.
	fuzzyMinRunes = 5
	// Maximum edit distance for two tokens to count as the same word.
	fuzzyMaxDistance = 1
)

// Thresholds bucket a composite score into confidence tiers.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// Config holds the scoring parameters.
type Config struct {
	ToleranceDays         int
	AmountWeight          float64
	DateWeight            float64
	DescriptionWeight     float64
	MinDescriptionOverlap float64
	Thresholds            Thresholds
	Workers               int
}

// DefaultConfig returns the weights and thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ToleranceDays:         3,
		AmountWeight:          0.5,
		DateWeight:            0.2,
		DescriptionWeight:     0.3,
		MinDescriptionOverlap: 0.5,
		Thresholds:            Thresholds{High: 0.85, Medium: 0.65, Low: 0.4},
		Workers:               8,
	}
}

// ConfigFrom maps the process configuration onto matcher parameters.
func ConfigFrom(rc config.ReconcileConfig) Config {
	return Config{
		ToleranceDays:         rc.DateToleranceDays,
		AmountWeight:          rc.AmountWeight,
		DateWeight:            rc.DateWeight,
		DescriptionWeight:     rc.DescriptionWeight,
		MinDescriptionOverlap: rc.MinDescriptionOverlap,
		Thresholds: Thresholds{
			High:   rc.HighThreshold,
			Medium: rc.MediumThreshold,
			Low:    rc.LowThreshold,
		},
		Workers: rc.MatchWorkers,
	}
}

// Match is the proposal for one staged row. ExistingID is nil when the
// confidence is NONE.
type Match struct {
	ImportedID uuid.UUID             `json:"importedId"`
	ExistingID *uuid.UUID            `json:"existingId"`
	Confidence repository.Confidence `json:"confidence"`
	Score      float64               `json:"score"`
	Reasons    []repository.Reason   `json:"reasons"`
}

// Update converts the match into the store write for the given status.
func (m Match) Update(status repository.MatchStatus) repository.MatchUpdate {
	return repository.MatchUpdate{
		Status:     status,
		Confidence: m.Confidence,
		Score:      m.Score,
		ExistingID: m.ExistingID,
		Reasons:    m.Reasons,
	}
}

// MatchingResult summarizes a matching run.
type MatchingResult struct {
	TotalImported           int `json:"totalImported"`
	HighConfidenceMatches   int `json:"highConfidenceMatches"`
	MediumConfidenceMatches int `json:"mediumConfidenceMatches"`
	LowConfidenceMatches    int `json:"lowConfidenceMatches"`
	Unmatched               int `json:"unmatched"`
}

func (r *MatchingResult) add(c repository.Confidence) {
	r.TotalImported++
	switch c {
	case repository.ConfidenceHigh:
		r.HighConfidenceMatches++
	case repository.ConfidenceMedium:
		r.MediumConfidenceMatches++
	case repository.ConfidenceLow:
		r.LowConfidenceMatches++
	default:
		r.Unmatched++
	}
}

// Matcher scores staged rows against existing transactions. It holds no
// mutable state and is safe for concurrent use.
type Matcher struct {
	cfg Config
}

// New creates a Matcher.
func New(cfg Config) *Matcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Matcher{cfg: cfg}
}

// Window returns the date range of existing transactions that can match any of
// the given rows.
func (m *Matcher) Window(imported []*repository.ImportedTransaction) (from, to time.Time) {
	for i, imp := range imported {
		d := repository.DateOnly(imp.Date)
		if i == 0 || d.Before(from) {
			from = d
		}
		if i == 0 || d.After(to) {
			to = d
		}
	}
	if len(imported) == 0 {
		return from, to
	}
	return from.AddDate(0, 0, -m.cfg.ToleranceDays), to.AddDate(0, 0, m.cfg.ToleranceDays)
}

type candidate struct {
	tx     *repository.Transaction
	date   time.Time
	tokens []string
}

func prepare(existing []*repository.Transaction) []candidate {
	out := make([]candidate, len(existing))
	for i, tx := range existing {
		out[i] = candidate{
			tx:     tx,
			date:   repository.DateOnly(tx.Date),
			tokens: uniqueTokens(normalizer.NormalizeDescription(tx.Description)),
		}
	}
	return out
}

// MatchOne scores a single row.
func (m *Matcher) MatchOne(imp *repository.ImportedTransaction, existing []*repository.Transaction) Match {
	return m.match(imp, prepare(existing))
}

// MatchAll scores every row concurrently. Results are in input order and do
// not depend on scheduling. Cancellation is observed before each row starts;
// on cancellation the partial result is discarded and ctx's error returned.
func (m *Matcher) MatchAll(ctx context.Context, imported []*repository.ImportedTransaction, existing []*repository.Transaction) ([]Match, MatchingResult, error) {
	candidates := prepare(existing)
	matches := make([]Match, len(imported))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for i, imp := range imported {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			matches[i] = m.match(imp, candidates)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, MatchingResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, MatchingResult{}, err
	}

	var result MatchingResult
	for _, mt := range matches {
		result.add(mt.Confidence)
	}
	return matches, result, nil
}

type scored struct {
	index      int
	score      float64
	days       int
	amountDiff int64
	amountEq   bool
	overlap    float64
}

// better reports whether a ranks above b: higher score, then closer date,
// then smaller amount difference, then earlier candidate.
func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.days != b.days {
		return a.days < b.days
	}
	if a.amountDiff != b.amountDiff {
		return a.amountDiff < b.amountDiff
	}
	return a.index < b.index
}

func (m *Matcher) match(imp *repository.ImportedTransaction, candidates []candidate) Match {
	result := Match{ImportedID: imp.ID, Confidence: repository.ConfidenceNone, Reasons: []repository.Reason{}}

	date := repository.DateOnly(imp.Date)
	description := imp.NormalizedDescription
	if description == "" {
		description = normalizer.NormalizeDescription(imp.RawDescription)
	}
	tokens := uniqueTokens(description)

	var best scored
	found := false
	for i, c := range candidates {
		if (imp.AmountMinor < 0) != (c.tx.AmountMinor < 0) {
			continue
		}
		if imp.CurrencyCode != "" && c.tx.CurrencyCode != "" && imp.CurrencyCode != c.tx.CurrencyCode {
			continue
		}
		days := dayDistance(date, c.date)
		if days > m.cfg.ToleranceDays {
			continue
		}

		s := scored{
			index:      i,
			days:       days,
			amountDiff: absInt64(imp.AmountMinor - c.tx.AmountMinor),
			amountEq:   imp.AmountMinor == c.tx.AmountMinor,
			overlap:    overlap(tokens, c.tokens),
		}
		s.score = m.score(s)

		if !found || better(s, best) {
			best, found = s, true
		}
	}
	if !found {
		return result
	}

	result.Score = best.score
	result.Confidence = m.tier(best.score)
	if result.Confidence == repository.ConfidenceNone {
		return result
	}

	id := candidates[best.index].tx.ID
	result.ExistingID = &id
	result.Reasons = m.reasons(best)
	return result
}

func (m *Matcher) score(s scored) float64 {
	var amount float64
	if s.amountEq {
		amount = 1
	}
	date := 1 - float64(s.days)/float64(m.cfg.ToleranceDays+1)
	total := m.cfg.AmountWeight*amount + m.cfg.DateWeight*date + m.cfg.DescriptionWeight*s.overlap
	return round4(total)
}

func (m *Matcher) tier(score float64) repository.Confidence {
	switch t := m.cfg.Thresholds; {
	case score >= t.High:
		return repository.ConfidenceHigh
	case score >= t.Medium:
		return repository.ConfidenceMedium
	case score >= t.Low:
		return repository.ConfidenceLow
	default:
		return repository.ConfidenceNone
	}
}

func (m *Matcher) reasons(s scored) []repository.Reason {
	reasons := make([]repository.Reason, 0, 3)
	if s.amountEq {
		reasons = append(reasons, repository.Reason{Code: repository.ReasonExactAmount})
	}
	if s.overlap > 0 && s.overlap >= m.cfg.MinDescriptionOverlap {
		reasons = append(reasons, repository.Reason{Code: repository.ReasonDescriptionOverlap, Overlap: round4(s.overlap)})
	}
	if s.days > 0 {
		reasons = append(reasons, repository.Reason{Code: repository.ReasonDateProximity, Days: s.days})
	}
	return reasons
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid matcher config")

// Validate checks that weights are non-negative and thresholds ordered.
func (c Config) Validate() error {
	if c.ToleranceDays < 0 || c.AmountWeight < 0 || c.DateWeight < 0 || c.DescriptionWeight < 0 {
		return ErrInvalidConfig
	}
	t := c.Thresholds
	if !(t.High >= t.Medium && t.Medium >= t.Low && t.Low > 0) {
		return ErrInvalidConfig
	}
	return nil
}

func uniqueTokens(normalized string) []string {
	tokens := normalizer.Tokens(normalized)
	slices.Sort(tokens)
	return slices.Compact(tokens)
}

// overlap is the Jaccard index of two sorted unique token sets, counting
// near-equal long tokens as the same word. Each token pairs at most once.
func overlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	used := make([]bool, len(b))
	shared := 0
	var pending []string
	for _, t := range a {
		if j, ok := slices.BinarySearch(b, t); ok && !used[j] {
			used[j] = true
			shared++
			continue
		}
		pending = append(pending, t)
	}
	for _, t := range pending {
		if utf8.RuneCountInString(t) < fuzzyMinRunes {
			continue
		}
		for j, u := range b {
			if used[j] || utf8.RuneCountInString(u) < fuzzyMinRunes {
				continue
			}
			if fuzzy.LevenshteinDistance(t, u) <= fuzzyMaxDistance {
				used[j] = true
				shared++
				break
			}
		}
	}

	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

func dayDistance(a, b time.Time) int {
	d := int(math.Round(a.Sub(b).Hours() / 24))
	if d < 0 {
		return -d
	}
	return d
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
