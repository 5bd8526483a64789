package categorization

import (
	"regexp"
	"regexp/syntax"
	"strings"
	"sync"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// RegexCache compiles patterns once. Patterns are matched case-insensitively.
// It is safe for concurrent use and is passed explicitly to engines and
// learners.
type RegexCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	re  *regexp.Regexp
	err error
}

// NewRegexCache creates an empty cache.
func NewRegexCache() *RegexCache {
	return &RegexCache{entries: make(map[string]cacheEntry)}
}

// Compile returns the compiled form of pattern. Invalid patterns return a
// ValidationError; the failure is cached too.
func (c *RegexCache) Compile(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	e, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return e.re, e.err
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		err = apperror.NewValidation("pattern", pattern, err.Error())
	}

	c.mu.Lock()
	c.entries[pattern] = cacheEntry{re: re, err: err}
	c.mu.Unlock()
	return re, err
}

// Len returns the number of cached patterns.
func (c *RegexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// literal returns the plain text a pattern matches when it has no regex
// operators, e.g. "tesco" or `marks\.com`.
func literal(pattern string) (string, bool) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", false
	}
	re = re.Simplify()
	if re.Op != syntax.OpLiteral || re.Flags&syntax.FoldCase != 0 {
		return "", false
	}
	return strings.ToLower(string(re.Rune)), true
}
