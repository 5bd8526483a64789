package categorization

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPatterns(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        []string
	}{
		{"stop word dropped", "tesco stores", []string{"tesco"}},
		{"rail prefix and reference stripped", "CARD PAYMENT TO TESCO STORES 3297", []string{"tesco"}},
		{"short words are not significant", "pret a manger", []string{"pret", "manger"}},
		{"pair and longest", "amazon marketplace", []string{"amazon", "amazon\\s+marketplace", "marketplace"}},
		{"non adjacent pair skipped", "uber the takeaway", []string{"uber", "takeaway"}},
		{"regex metacharacters quoted", "marks.spencer", []string{"marks", "spencer"}},
		{"digits dropped", "shell 4521 garage", []string{"shell", "garage"}},
		{"nothing significant", "card payment 1234", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPatterns(tt.description))
		})
	}
}

func TestExtractPatterns_AtMostThreeAndCompilable(t *testing.T) {
	patterns := ExtractPatterns("deliveroo restaurant takeaway kitchen")
	require.LessOrEqual(t, len(patterns), MaxExtractedPatterns)
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		require.NoError(t, err)
		assert.True(t, re.MatchString("DELIVEROO RESTAURANT TAKEAWAY KITCHEN"), p)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Tesco Stores", DisplayName("CARD PAYMENT TO TESCO STORES 3297"))
	assert.Equal(t, "Pret A Manger", DisplayName("pos pret a manger 12/03"))
	assert.Equal(t, "", DisplayName("   "))
}
