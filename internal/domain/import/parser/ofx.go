package parser

import (
	"bytes"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// ofxMapping describes the fixed OFX fields a record is built from.
var ofxMapping = ColumnMapping{
	Date:        "DTPOSTED",
	Description: "NAME",
	Amount:      "TRNAMT",
	Type:        "TRNTYPE",
	Currency:    "CURDEF",
	DateFormat:  "2006-01-02",
}

var ofxSeverity = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)`)

// OFXSource reads an OFX/QFX statement. Bank and credit card statements are
// flattened in file order; Line is the 1-based position of the transaction.
type OFXSource struct {
	records []Record
}

// NewOFXSource parses the whole document up front. Column mapping does not
// apply to OFX.
func NewOFXSource(data []byte) (*OFXSource, error) {
	content := bytes.TrimLeft(data, " \t\r\n\uFEFF")
	if len(content) == 0 {
		return nil, apperror.NewValidation("file", "", "empty file")
	}
	content = ofxSeverity.ReplaceAllFunc(content, bytes.ToUpper)

	resp, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, apperror.NewValidation("file", "", fmt.Sprintf("not a valid OFX document: %v", err))
	}

	s := &OFXSource{}
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			s.add(stmt.BankTranList, stmt.CurDef)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			s.add(stmt.BankTranList, stmt.CurDef)
		}
	}
	return s, nil
}

func (s *OFXSource) add(list *ofxgo.TransactionList, cur ofxgo.CurrSymbol) {
	if list == nil {
		return
	}
	currency := ""
	if ok, _ := cur.Valid(); ok {
		currency = cur.String()
	}
	for _, tx := range list.Transactions {
		s.records = append(s.records, Record{
			Line:        len(s.records) + 1,
			Date:        tx.DtPosted.Format("2006-01-02"),
			Description: ofxDescription(tx),
			Amount:      tx.TrnAmt.FloatString(4),
			Type:        tx.TrnType.String(),
			Currency:    currency,
		})
	}
}

// ofxDescription prefers the payee name, then NAME, then MEMO.
func ofxDescription(tx ofxgo.Transaction) string {
	if tx.Payee != nil && strings.TrimSpace(string(tx.Payee.Name)) != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}
	if name := strings.TrimSpace(string(tx.Name)); name != "" {
		return name
	}
	return strings.TrimSpace(string(tx.Memo))
}

func (s *OFXSource) Mapping() ColumnMapping { return ofxMapping }

func (s *OFXSource) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, rec := range s.records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}
