package testutil

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/money"
)

// Generator produces realistic statement data. The same seed always yields
// the same data.
type Generator struct {
	faker *gofakeit.Faker
}

// NewGenerator creates a generator with a fixed seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

var merchants = []string{
	"Tesco Stores", "Sainsburys", "Pret A Manger", "Costa Coffee", "Starbucks",
	"Amazon Marketplace", "Uber Trip", "Netflix", "Spotify", "Deliveroo",
	"Boots", "Shell", "Trainline", "Waitrose", "Screwfix",
}

// Merchant returns a merchant name.
func (g *Generator) Merchant() string {
	return merchants[g.faker.Number(0, len(merchants)-1)]
}

// Description returns a merchant name, sometimes followed by a card reference.
func (g *Generator) Description() string {
	if g.faker.Bool() {
		return g.Merchant() + " " + g.faker.DigitN(4)
	}
	return g.Merchant()
}

// AmountMinor returns a signed amount in [min, max] minor units.
func (g *Generator) AmountMinor(min, max int) int64 {
	return int64(g.faker.Number(min, max))
}

// Date returns a calendar date in [from, to].
func (g *Generator) Date(from, to time.Time) time.Time {
	return repository.DateOnly(g.faker.DateRange(from, to))
}

// Transaction returns a manual canonical transaction for the account.
func (g *Generator) Transaction(userID, accountID uuid.UUID, from, to time.Time) repository.Transaction {
	return repository.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		AccountID:    accountID,
		Date:         g.Date(from, to),
		AmountMinor:  -g.AmountMinor(100, 50000),
		CurrencyCode: money.GBP,
		Description:  g.Description(),
		Source:       repository.SourceManual,
	}
}

// StatementRow is one line of a generated statement.
type StatementRow struct {
	Date        string `csv:"Date"`
	Description string `csv:"Description"`
	Amount      string `csv:"Amount"`
	State       string `csv:"State"`
}

// StatementOf renders transactions as a bank CSV export with Date,
// Description, Amount and State columns.
func StatementOf(txs []repository.Transaction) ([]byte, error) {
	rows := make([]*StatementRow, len(txs))
	for i, tx := range txs {
		rows[i] = &StatementRow{
			Date:        tx.Date.Format(time.DateOnly),
			Description: tx.Description,
			Amount:      money.New(tx.AmountMinor, tx.CurrencyCode).ToDecimal().StringFixed(int32(money.Fraction(tx.CurrencyCode))),
			State:       "COMPLETED",
		}
	}
	return gocsv.MarshalBytes(&rows)
}
