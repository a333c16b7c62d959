package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy captures the HTTP caching semantics of one stored response:
// freshness lifetime plus the validators needed for conditional
// revalidation once the entry goes stale.
type Policy struct {
	MaxAge       time.Duration
	NoStore      bool
	NoCache      bool
	ETag         string
	LastModified string
	StoredAt     time.Time
}

// PolicyFromRequest derives the caching intent from request Cache-Control
// plus the merged default freshness window.
func PolicyFromRequest(h http.Header, defaultMaxAge time.Duration) Policy {
	p := Policy{MaxAge: defaultMaxAge}
	applyCacheControl(&p, h.Get("Cache-Control"))
	return p
}

// Refine folds the upstream response headers into the request-derived
// policy; response directives win.
func (p Policy) Refine(h http.Header, now time.Time) Policy {
	applyCacheControl(&p, h.Get("Cache-Control"))
	p.ETag = h.Get("ETag")
	p.LastModified = h.Get("Last-Modified")
	p.StoredAt = now
	return p
}

func applyCacheControl(p *Policy, value string) {
	for _, directive := range strings.Split(value, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		switch {
		case directive == "no-store":
			p.NoStore = true
		case directive == "no-cache":
			p.NoCache = true
		case strings.HasPrefix(directive, "max-age="):
			if secs, err := strconv.Atoi(directive[len("max-age="):]); err == nil && secs >= 0 {
				p.MaxAge = time.Duration(secs) * time.Second
			}
		}
	}
}

// Storable reports whether a response with this policy may enter the cache.
// Only successful, bounded-freshness responses are stored.
func (p Policy) Storable(status int) bool {
	if p.NoStore || p.MaxAge <= 0 {
		return false
	}
	switch status {
	case http.StatusOK, http.StatusNonAuthoritativeInfo:
		return true
	}
	return false
}

// FreshAt reports whether the entry is still within its freshness window.
func (p Policy) FreshAt(now time.Time) bool {
	if p.NoCache {
		return false
	}
	return now.Sub(p.StoredAt) < p.MaxAge
}

// Revalidatable reports whether a stale entry carries validators usable for
// a conditional upstream request.
func (p Policy) Revalidatable() bool {
	return p.ETag != "" || p.LastModified != ""
}

// ConditionalHeaders returns the headers for a revalidation request.
func (p Policy) ConditionalHeaders() map[string]string {
	h := make(map[string]string, 2)
	if p.ETag != "" {
		h["If-None-Match"] = p.ETag
	}
	if p.LastModified != "" {
		h["If-Modified-Since"] = p.LastModified
	}
	return h
}
