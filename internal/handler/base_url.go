package handler

import (
	"net/http"
	"strings"
)

// requestBaseURL rebuilds the externally visible origin of r. With
// trustProxy set, X-Forwarded-Proto and X-Forwarded-Host win over the
// connection's own TLS state and Host. Clients can send those headers
// directly, so only trust them when a proxy in front rewrites them.
func requestBaseURL(r *http.Request, trustProxy bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if !trustProxy {
		return scheme + "://" + host
	}

	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		first, _, _ := strings.Cut(proto, ",")
		scheme = strings.ToLower(strings.TrimSpace(first))
	}
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		host = strings.TrimSpace(first)
	}

	return scheme + "://" + host
}
