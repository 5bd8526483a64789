package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/parser"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
	"github.com/FACorreiaa/bank-reconciler/pkg/money"
)

// Candidate is a normalized statement row ready to be staged.
type Candidate struct {
	Line                  int
	Date                  time.Time
	AmountMinor           int64
	CurrencyCode          string
	RawDescription        string
	NormalizedDescription string
	Fingerprint           string
	Type                  repository.TxType
	BalanceMinor          *int64
}

// RowError wraps the reason a row was rejected.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *RowError) Unwrap() error { return e.Err }

// RowFailure is a rejected row as reported in batch results.
type RowFailure struct {
	Line   int    `csv:"line" json:"line"`
	Reason string `csv:"reason" json:"reason"`
}

// Config controls value parsing. Currency is used when the statement has no
// currency column.
type Config struct {
	Currency       string
	DateFormat     string
	EuropeanFormat bool
}

// ConfigFor derives the parsing config from a source mapping.
func ConfigFor(src parser.Source, currency string) Config {
	m := src.Mapping()
	return Config{
		Currency:       currency,
		DateFormat:     m.DateFormat,
		EuropeanFormat: m.EuropeanFormat,
	}
}

// Batch is a lazy view of a source's normalized rows.
type Batch struct {
	src parser.Source
	cfg Config
}

// Normalize wraps src. Nothing is read until the batch is iterated.
func Normalize(src parser.Source, cfg Config) *Batch {
	return &Batch{src: src, cfg: cfg}
}

// All yields every row in file order: a Candidate with a nil error, or a
// *RowError for a rejected row. Iterating again re-reads the source.
func (b *Batch) All() iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		for rec, err := range b.src.Records() {
			if err != nil {
				var pe parser.ParseError
				if !errors.As(err, &pe) {
					yield(Candidate{}, err)
					return
				}
				if !yield(Candidate{Line: rec.Line}, &RowError{Line: rec.Line, Err: apperror.NewValidation("row", "", pe.Message)}) {
					return
				}
				continue
			}

			c, err := NormalizeRecord(rec, b.cfg)
			if err != nil {
				err = &RowError{Line: rec.Line, Err: err}
			}
			if !yield(c, err) {
				return
			}
		}
	}
}

// Collect drains the batch into valid candidates and row failures. Only a
// failure of the underlying reader is returned as an error.
func (b *Batch) Collect() ([]Candidate, []RowFailure, error) {
	var candidates []Candidate
	var failures []RowFailure
	for c, err := range b.All() {
		if err != nil {
			var re *RowError
			if !errors.As(err, &re) {
				return candidates, failures, err
			}
			failures = append(failures, RowFailure{Line: re.Line, Reason: re.Err.Error()})
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, failures, nil
}

// NormalizeRecord converts one raw record.
func NormalizeRecord(rec parser.Record, cfg Config) (Candidate, error) {
	if rec.State != "" && !strings.EqualFold(rec.State, "COMPLETED") {
		return Candidate{}, apperror.NewValidation("state", rec.State, "transaction is not completed")
	}
	if strings.TrimSpace(rec.Description) == "" {
		return Candidate{}, apperror.NewValidation("description", "", "missing required value")
	}

	date, err := ParseDate(rec.Date, cfg.DateFormat)
	if err != nil {
		return Candidate{}, apperror.NewValidation("date", rec.Date, err.Error())
	}

	currency := cfg.Currency
	if rec.Currency != "" {
		currency = rec.Currency
	}
	currency = money.Code(currency)

	amount, err := money.Parse(rec.Amount, currency, cfg.EuropeanFormat)
	if err != nil {
		return Candidate{}, apperror.NewValidation("amount", rec.Amount, err.Error())
	}
	if rec.Fee != "" {
		fee, err := money.Parse(rec.Fee, currency, cfg.EuropeanFormat)
		if err != nil {
			return Candidate{}, apperror.NewValidation("fee", rec.Fee, err.Error())
		}
		if amount, err = amount.Sub(fee); err != nil {
			return Candidate{}, apperror.NewValidation("fee", rec.Fee, err.Error())
		}
	}

	var balance *int64
	if rec.Balance != "" {
		b, err := money.Parse(rec.Balance, currency, cfg.EuropeanFormat)
		if err != nil {
			return Candidate{}, apperror.NewValidation("balance", rec.Balance, err.Error())
		}
		v := b.Amount()
		balance = &v
	}

	normalized := NormalizeDescription(rec.Description)
	return Candidate{
		Line:                  rec.Line,
		Date:                  date,
		AmountMinor:           amount.Amount(),
		CurrencyCode:          currency,
		RawDescription:        strings.TrimSpace(rec.Description),
		NormalizedDescription: normalized,
		Fingerprint:           Fingerprint(date, amount.Amount(), normalized),
		Type:                  InferType(amount.Amount(), rec.Type, rec.Product),
		BalanceMinor:          balance,
	}, nil
}

// Fingerprint is the hex SHA-256 of the calendar date, the amount in minor
// units and the normalized description.
func Fingerprint(date time.Time, amountMinor int64, normalizedDescription string) string {
	key := date.Format(time.DateOnly) + "|" + strconv.FormatInt(amountMinor, 10) + "|" + normalizedDescription
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

var capitalKinds = map[string]bool{
	"TRANSFER":   true,
	"EXCHANGE":   true,
	"TOPUP":      true,
	"TOP-UP":     true,
	"SAVINGS":    true,
	"INVESTMENT": true,
	"DEPOSIT":    true,
	"XFER":       true, // OFX TRNTYPE
}

// InferType returns capital for movements between the owner's own accounts,
// otherwise income or expenditure by sign.
func InferType(amountMinor int64, txType, product string) repository.TxType {
	for _, v := range []string{txType, product} {
		if capitalKinds[strings.ToUpper(strings.TrimSpace(v))] {
			return repository.TypeCapital
		}
	}
	if amountMinor < 0 {
		return repository.TypeExpenditure
	}
	return repository.TypeIncome
}

var dateLayouts = []string{
	"2006-01-02",           // ISO 8601
	"02/01/2006",           // DD/MM/YYYY
	"01/02/2006",           // MM/DD/YYYY
	"02-01-2006",           // DD-MM-YYYY
	"2006/01/02",           // YYYY/MM/DD
	"02.01.2006",           // DD.MM.YYYY
	"2 Jan 2006",           // UK online banking
	"02 Jan 2006",          // UK, zero padded
	"2006-01-02T15:04:05Z", // ISO 8601 with time
	"2006-01-02 15:04:05",  // ISO with space
	"02/01/2006 15:04",
}

// ParseDate parses s into a UTC calendar date, trying layout first.
func ParseDate(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}

	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return repository.DateOnly(t), nil
		}
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return repository.DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %s", s)
}
