package categorization

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

func pattern(text string, category uuid.UUID, confidence int) Pattern {
	return Pattern{ID: uuid.New(), Pattern: text, CategoryID: category, ConfidenceScore: confidence, MatchCount: 1}
}

func TestEngine_Match(t *testing.T) {
	groceries, eatingOut, transport := uuid.New(), uuid.New(), uuid.New()
	e := NewEngine([]Pattern{
		pattern("tesco", groceries, 70),
		pattern(`pret\s+a\s+manger`, eatingOut, 60),
		pattern("uber", transport, 80),
		pattern(`marks\.com`, groceries, 55),
	}, NewRegexCache())

	t.Run("literal is case insensitive", func(t *testing.T) {
		got := e.Match("CARD PAYMENT TO TESCO STORES 3297")
		require.Len(t, got, 1)
		assert.Equal(t, "tesco", got[0].Pattern)
		assert.Equal(t, groceries, got[0].CategoryID)
		assert.Equal(t, 70, got[0].Confidence)
	})

	t.Run("regex pattern", func(t *testing.T) {
		got := e.Best("Pret  A Manger Victoria")
		require.NotNil(t, got)
		assert.Equal(t, eatingOut, got.CategoryID)
	})

	t.Run("escaped literal", func(t *testing.T) {
		assert.NotNil(t, e.Best("MARKS.COM ORDER"))
		assert.Nil(t, e.Best("marksXcom order"))
	})

	t.Run("highest confidence first", func(t *testing.T) {
		got := e.Match("uber trip to tesco")
		require.Len(t, got, 2)
		assert.Equal(t, "uber", got[0].Pattern)
		assert.Equal(t, "tesco", got[1].Pattern)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, e.Match("sainsburys"))
		assert.Nil(t, e.Best("sainsburys"))
	})
}

func TestEngine_EqualConfidenceOrderedByPattern(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	e := NewEngine([]Pattern{pattern("zara", a, 60), pattern("amazon", b, 60)}, NewRegexCache())

	got := e.Match("amazon zara")
	require.Len(t, got, 2)
	assert.Equal(t, "amazon", got[0].Pattern)
}

func TestEngine_SkipsInvalidPatterns(t *testing.T) {
	e := NewEngine([]Pattern{pattern("tesco(", uuid.New(), 60), pattern("lidl", uuid.New(), 60)}, NewRegexCache())

	assert.Equal(t, 1, e.Skipped())
	assert.False(t, e.IsEmpty())
	assert.NotNil(t, e.Best("LIDL GB"))
}

func TestEngine_Empty(t *testing.T) {
	e := NewEngine(nil, NewRegexCache())
	assert.True(t, e.IsEmpty())
	assert.Nil(t, e.Best("anything"))
}

func TestEngine_ConcurrentMatch(t *testing.T) {
	e := NewEngine([]Pattern{pattern("tesco", uuid.New(), 70), pattern(`ub(er|ber)`, uuid.New(), 60)}, NewRegexCache())

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			for range 100 {
				assert.Len(t, e.Match("tesco uber"), 2)
			}
		})
	}
	wg.Wait()
}

func TestRegexCache(t *testing.T) {
	c := NewRegexCache()

	re, err := c.Compile("tesco")
	require.NoError(t, err)
	assert.True(t, re.MatchString("TESCO"))

	again, err := c.Compile("tesco")
	require.NoError(t, err)
	assert.Same(t, re, again)

	_, err = c.Compile("[unclosed")
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = c.Compile("[unclosed")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	assert.Equal(t, 2, c.Len())
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
		ok      bool
	}{
		{"tesco", "tesco", true},
		{"TESCO", "tesco", true},
		{`marks\.com`, "marks.com", true},
		{`pret\s+manger`, "", false},
		{"uber|lyft", "", false},
		{"(?i)tesco", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, ok := literal(tt.pattern)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
