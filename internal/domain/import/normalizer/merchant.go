// Package normalizer turns raw statement records into staged candidates with
// a stable fingerprint, and decides how duplicates of staged rows are handled.
package normalizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	refSuffix  = regexp.MustCompile(`\s+\d{4,}$`)
	dateSuffix = regexp.MustCompile(`\s+\d{1,2}/\d{1,2}(/\d{2,4})?$`)
)

// Payment-rail noise that precedes the merchant on most UK/EU statements.
var railPrefixes = []string{
	"card payment to ", "card purchase ", "contactless ", "direct debit ",
	"purchase ", "payment ", "pos ", "visa ", "mastercard ", "maestro ",
	"compra ", "pagamento ", "trf ", "transf ", "mb way ",
}

// NormalizeDescription applies NFKC, Unicode case folding and whitespace
// collapsing. The result is the description part of the fingerprint.
func NormalizeDescription(raw string) string {
	s := norm.NFKC.String(raw)
	s = cases.Fold().String(s) // Casers are stateful; one per call
	return strings.Join(strings.Fields(s), " ")
}

// MerchantName strips payment-rail prefixes and trailing reference numbers or
// dates from a normalized description, leaving the merchant text.
func MerchantName(normalized string) string {
	result := strings.TrimSpace(normalized)
	for _, prefix := range railPrefixes {
		if strings.HasPrefix(result, prefix) {
			result = result[len(prefix):]
			break
		}
	}

	result = refSuffix.ReplaceAllString(result, "")
	result = dateSuffix.ReplaceAllString(result, "")
	return strings.Join(strings.Fields(result), " ")
}

// Tokens splits a normalized description on anything that is not a letter
// or digit.
func Tokens(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
