package service

import (
	"sort"
	"strings"
	"time"

	"friendclub/internal/domain"
)

// expirationOptions are the lifetimes a poster may pick.
var expirationOptions = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
}

// ParseExpiration maps an expiration option to its duration. The empty
// string means the message never expires and yields zero.
func ParseExpiration(option string) (time.Duration, error) {
	option = strings.TrimSpace(strings.ToLower(option))
	if option == "" {
		return 0, nil
	}
	d, ok := expirationOptions[option]
	if !ok {
		return 0, domain.ErrInvalidInput
	}
	return d, nil
}

// ExpirationOptions lists the accepted options, shortest first.
func ExpirationOptions() []string {
	opts := make([]string, 0, len(expirationOptions))
	for k := range expirationOptions {
		opts = append(opts, k)
	}
	sort.Slice(opts, func(i, j int) bool {
		return expirationOptions[opts[i]] < expirationOptions[opts[j]]
	})
	return opts
}
