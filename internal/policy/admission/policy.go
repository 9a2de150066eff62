// Package admission decides whether a target URL may be scraped at all.
package admission

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrBlocked is returned for targets whose host is on the blocklist.
var ErrBlocked = errors.New("target host is blocked")

// Policy rejects targets by host. The zero value allows everything.
type Policy struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Policy from host patterns: "example.org" blocks that host only,
// "*.ru" and ".ru" block the domain and every subdomain.
func New(patterns []string) *Policy {
	p := &Policy{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

// IsBlocked reports whether host matches the blocklist.
func (p *Policy) IsBlocked(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := p.exact[host]; exact {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Allow returns ErrBlocked when rawURL points at a blocked host.
func (p *Policy) Allow(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}
	if p.IsBlocked(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrBlocked, u.Hostname())
	}
	return nil
}
