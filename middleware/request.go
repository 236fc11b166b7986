package middleware

import (
	"net/http"
	"strings"

	"learn.hostlimit/core"
	"learn.hostlimit/types"
)

// ClientIP extracts the client's IP address from the request.
// It checks X-Forwarded-For, X-Real-IP headers, and finally the request's RemoteAddr.
// Only use it behind a proxy that sets these headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return core.RemoteHost(r)
}

// SkipPaths skips the check for requests to any of paths.
func SkipPaths(paths ...string) core.SkipFunc {
	set := pathSet(paths)
	return func(r *http.Request) types.SkipResult {
		if _, ok := set[r.URL.Path]; ok {
			return types.SkipRateLimit
		}
		return types.ExecuteRateLimit
	}
}

// OnlyPaths checks only requests to one of paths and skips everything else.
func OnlyPaths(paths ...string) core.SkipFunc {
	set := pathSet(paths)
	return func(r *http.Request) types.SkipResult {
		if _, ok := set[r.URL.Path]; ok {
			return types.ExecuteRateLimit
		}
		return types.SkipRateLimit
	}
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}
