package domain

import (
	"net/url"
	"strings"
)

const DefaultBaseURL = "http://localhost:3000"

// NormalizeBaseURL gives base a scheme and strips trailing slashes.
func NormalizeBaseURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")

	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return "", ErrInvalidBaseURL
	}
	return base, nil
}

func SuccessURL(base string) string {
	return base + "/login?setup_success=true"
}

func CancelURL(base string) string {
	return base + "/super-admin?canceled=true"
}
