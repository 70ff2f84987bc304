// Package subdomain derives URL-safe, unique subdomains from organization
// names.
package subdomain

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

const (
	// MaxLength bounds every candidate, suffix included.
	MaxLength = 50
	// MaxSuffix is the last numeric suffix tried before giving up.
	MaxSuffix = 10
)

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrAllocationExhausted = errors.New("subdomain_allocation_exhausted")
)

var invalidChars = regexp.MustCompile(`[^a-z0-9]+`)

// Checker answers whether a subdomain is already in use.
type Checker interface {
	SubdomainExists(ctx context.Context, subdomain string) (bool, error)
}

type CheckerFunc func(ctx context.Context, subdomain string) (bool, error)

func (f CheckerFunc) SubdomainExists(ctx context.Context, subdomain string) (bool, error) {
	return f(ctx, subdomain)
}

// Allocation is a chosen candidate and its position in the sequence
// base, base-1, ..., base-MaxSuffix.
type Allocation struct {
	Base      string
	Subdomain string
	Attempt   int
}

type Allocator struct {
	checker Checker
}

func NewAllocator(checker Checker) *Allocator {
	return &Allocator{checker: checker}
}

// Normalize maps a display name to the base subdomain. Anything outside
// [a-z0-9] after lower-casing, non-ASCII letters included, becomes a single
// hyphen. The result is either empty or matches Valid.
func Normalize(name string) string {
	s := invalidChars.ReplaceAllString(strings.ToLower(name), "-")
	return truncate(strings.Trim(s, "-"), MaxLength)
}

// Valid reports whether s is a well formed subdomain: a slug without
// underscores or repeated hyphens, at most MaxLength bytes long.
func Valid(s string) bool {
	if len(s) > MaxLength || !slug.IsSlug(s) {
		return false
	}
	return !strings.ContainsRune(s, '_') && !strings.Contains(s, "--")
}

// Candidate returns the n-th candidate for base; 0 is the base itself.
func Candidate(base string, n int) string {
	if n <= 0 {
		return truncate(base, MaxLength)
	}
	suffix := "-" + strconv.Itoa(n)
	return truncate(base, MaxLength-len(suffix)) + suffix
}

// Allocate returns the first candidate for name that the checker reports
// free.
func (a *Allocator) Allocate(ctx context.Context, name string) (Allocation, error) {
	base := Normalize(name)
	if base == "" {
		return Allocation{}, ErrInvalidName
	}
	return a.scan(ctx, base, 0)
}

// Next continues after prev, for when prev lost a race at insert time.
func (a *Allocator) Next(ctx context.Context, prev Allocation) (Allocation, error) {
	if prev.Base == "" {
		return Allocation{}, ErrInvalidName
	}
	return a.scan(ctx, prev.Base, prev.Attempt+1)
}

func (a *Allocator) scan(ctx context.Context, base string, from int) (Allocation, error) {
	for n := from; n <= MaxSuffix; n++ {
		candidate := Candidate(base, n)
		taken, err := a.checker.SubdomainExists(ctx, candidate)
		if err != nil {
			return Allocation{}, err
		}
		if !taken {
			return Allocation{Base: base, Subdomain: candidate, Attempt: n}, nil
		}
	}
	return Allocation{}, ErrAllocationExhausted
}

func truncate(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.TrimRight(s, "-")
}
