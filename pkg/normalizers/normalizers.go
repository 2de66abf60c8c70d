// Package normalizers provides the named string normalizers applied to contact
// identifiers before they are stored or compared.
package normalizers

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var (
	mu       sync.RWMutex
	registry = make(map[string]Normalizer)
)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("nemail", NormalizeEmail)
	Register("nphone", NormalizePhone)
	Register("digits_only", NormalizePhone)
	Register("remove_whitespace", RemoveWhitespace)
}

// Register adds a normalizer to the registry, replacing any with the same name
func Register(name string, fn Normalizer) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Chain is an ordered list of normalizers.
type Chain struct {
	names []string
	fns   []Normalizer
}

// NewChain resolves names against the registry. Blank names are skipped so an
// empty env value yields the identity chain.
func NewChain(names ...string) (Chain, error) {
	chain := Chain{}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		fn, ok := Get(name)
		if !ok {
			return Chain{}, fmt.Errorf("unknown normalizer %q", name)
		}
		chain.names = append(chain.names, name)
		chain.fns = append(chain.fns, fn)
	}
	return chain, nil
}

// MustChain is NewChain for built-in names known at compile time.
func MustChain(names ...string) Chain {
	chain, err := NewChain(names...)
	if err != nil {
		panic(err)
	}
	return chain
}

// Apply runs every normalizer in order.
func (c Chain) Apply(value string) string {
	for _, fn := range c.fns {
		value = fn(value)
	}
	return value
}

func (c Chain) Names() []string {
	return append([]string(nil), c.names...)
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone keeps only the digits of a phone number
func NormalizePhone(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
