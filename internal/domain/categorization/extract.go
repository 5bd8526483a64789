package categorization

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/normalizer"
)

// MaxExtractedPatterns caps the patterns derived from one description.
const MaxExtractedPatterns = 3

const minTokenRunes = 3

var stopWords = map[string]bool{
	"store": true, "stores": true, "shop": true, "ltd": true, "limited": true,
	"plc": true, "inc": true, "llc": true, "co": true, "com": true, "www": true,
	"payment": true, "payments": true, "card": true, "debit": true, "credit": true,
	"direct": true, "purchase": true, "transfer": true, "online": true, "the": true,
	"and": true, "for": true, "from": true, "ref": true, "gbp": true, "eur": true,
	"usd": true, "london": true, "uk": true, "gb": true,
}

// ExtractPatterns derives up to three case-insensitive regex fragments from a
// description, in rank order: the first significant token, the first two
// significant tokens when they are adjacent, and the longest significant
// token. Stop words, short tokens and tokens with digits are not significant.
func ExtractPatterns(description string) []string {
	merchant := normalizer.MerchantName(normalizer.NormalizeDescription(description))
	tokens := significantTokens(merchant)
	if len(tokens) == 0 {
		return nil
	}

	patterns := make([]string, 0, MaxExtractedPatterns)
	add := func(p string) {
		for _, existing := range patterns {
			if existing == p {
				return
			}
		}
		if len(patterns) < MaxExtractedPatterns {
			patterns = append(patterns, p)
		}
	}

	add(regexp.QuoteMeta(tokens[0]))

	if len(tokens) > 1 && strings.Contains(merchant, tokens[0]+" "+tokens[1]) {
		add(regexp.QuoteMeta(tokens[0]) + `\s+` + regexp.QuoteMeta(tokens[1]))
	}

	longest := tokens[0]
	for _, t := range tokens[1:] {
		if utf8.RuneCountInString(t) > utf8.RuneCountInString(longest) {
			longest = t
		}
	}
	add(regexp.QuoteMeta(longest))

	return patterns
}

func significantTokens(merchant string) []string {
	var out []string
	for _, t := range normalizer.Tokens(merchant) {
		if utf8.RuneCountInString(t) < minTokenRunes || stopWords[t] || strings.IndexFunc(t, unicode.IsDigit) >= 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// DisplayName returns a cleaned, title-cased merchant name for a raw
// description, e.g. "CARD PAYMENT TO TESCO STORES 3297" becomes "Tesco Stores".
func DisplayName(description string) string {
	return cases.Title(language.Und).String(normalizer.MerchantName(normalizer.NormalizeDescription(description)))
}
