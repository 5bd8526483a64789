package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

func TestSuggest_RevolutExport(t *testing.T) {
	data := []byte("Type,Product,Started Date,Completed Date,Description,Amount,Fee,Currency,State,Balance\n" +
		"CARD_PAYMENT,Current,2024-03-01 10:12:00,2024-03-02 09:00:00,Tesco,-12.34,0.00,GBP,COMPLETED,100.00\n" +
		"TOPUP,Current,2024-03-02 08:00:00,2024-03-02 08:00:00,Top-up,50.00,0.00,GBP,COMPLETED,150.00\n")

	s, err := Suggest(data)
	require.NoError(t, err)

	m := s.Mapping
	assert.Equal(t, ',', m.Delimiter)
	assert.Equal(t, "Started Date", m.Date)
	assert.Equal(t, "Completed Date", m.CompletedDate)
	assert.Equal(t, "Description", m.Description)
	assert.Equal(t, "Amount", m.Amount)
	assert.Equal(t, "Fee", m.Fee)
	assert.Equal(t, "Currency", m.Currency)
	assert.Equal(t, "State", m.State)
	assert.Equal(t, "Balance", m.Balance)
	assert.Equal(t, "Type", m.Type)
	assert.Equal(t, "Product", m.Product)
	assert.False(t, m.EuropeanFormat)
	assert.Empty(t, m.DateFormat)
	assert.True(t, s.Complete)
	assert.Equal(t, 0, s.HeaderRow)
	assert.Equal(t, "GBP", s.CurrencyHint)
}

func TestSuggest_PortugueseWithMetadata(t *testing.T) {
	data := []byte("Conta;PT50 0000 0000\n" +
		"Periodo;01-03-2024 a 31-03-2024\n" +
		"\n" +
		"Data Mov.;Data Valor;Descrição;Montante;Saldo\n" +
		"15-03-2024;15-03-2024;COMPRA CONTINENTE;-1.234,56;2.000,00 EUR\n" +
		"02-03-2024;02-03-2024;MB WAY;-10,50;1.989,50 EUR\n")

	s, err := Suggest(data)
	require.NoError(t, err)

	m := s.Mapping
	assert.Equal(t, ';', m.Delimiter)
	assert.Equal(t, 2, s.HeaderRow)
	assert.Equal(t, "Data Mov.", m.Date)
	assert.Equal(t, "Data Valor", m.CompletedDate)
	assert.Equal(t, "Descrição", m.Description)
	assert.Equal(t, "Montante", m.Amount)
	assert.Equal(t, "Saldo", m.Balance)
	assert.True(t, m.EuropeanFormat)
	assert.Equal(t, "02-01-2006", m.DateFormat)
	assert.Equal(t, "EUR", s.CurrencyHint)
	assert.True(t, s.Complete)
}

func TestSuggest_FingerprintIgnoresColumnOrder(t *testing.T) {
	a, err := Suggest([]byte("Date,Description,Amount\n2024-03-01,Tesco,-1.00\n"))
	require.NoError(t, err)
	b, err := Suggest([]byte("Amount,Date,Description\n-1.00,2024-03-01,Tesco\n"))
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Len(t, a.Fingerprint, 64)
}

func TestSuggest_Incomplete(t *testing.T) {
	s, err := Suggest([]byte("Date,Description,Reference\n2024-03-01,Tesco,X1\n"))
	require.NoError(t, err)
	assert.False(t, s.Complete)
	assert.Empty(t, s.Mapping.Amount)
}

func TestSuggest_Errors(t *testing.T) {
	_, err := Suggest(nil)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = Suggest([]byte("hello world\nno table here\n"))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestAmountHint(t *testing.T) {
	tests := []struct {
		val  string
		want int
	}{
		{"1.234,56", 1},
		{"-10,50", 1},
		{"1,234.56", -1},
		{"-12.34", -1},
		{"1,234", 0},
		{"1.234", 0},
		{"100", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			assert.Equal(t, tt.want, amountHint(tt.val))
		})
	}
}

func TestDateOrder(t *testing.T) {
	assert.Equal(t, 1, dateOrder("15/03/2024"))
	assert.Equal(t, -1, dateOrder("03/15/2024"))
	assert.Equal(t, 0, dateOrder("03/04/2024"))
	assert.Equal(t, 0, dateOrder("2024-03-15"))
	assert.Equal(t, 0, dateOrder("yesterday"))
}
