package gateway

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a connection.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(trimmed); ok {
			p.allowed[normalized] = struct{}{}
		}
	}
	return p
}

// allows reports whether r may be upgraded. Requests without an Origin header
// come from non-browser clients and are allowed. With no configured origins
// only same-host browser requests pass.
func (p originPolicy) allows(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	if len(p.allowed) == 0 {
		u, _ := url.Parse(normalized)
		return strings.EqualFold(u.Host, r.Host)
	}

	_, ok = p.allowed[normalized]
	return ok
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
