package cache

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// KeyFunc derives the cache key of a request. Returning ok=false bypasses the
// cache.
type KeyFunc func(r *http.Request) (key CacheKey, ok bool)

// Handler serves GET requests from the cache and stores 200 responses of
// next. A nil manager disables caching but keeps ETag handling.
func Handler(m *Manager, keyFn KeyFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := keyFn(r)
		if m != nil && ok {
			entry, err := m.Get(r.Context(), key)
			if err == nil {
				w.Header().Set("X-Cache", "HIT")
				writeEntry(w, r, entry)
				return
			}
			if !errors.Is(err, ErrCacheMiss) {
				log.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed")
			}
		}

		rec := &recorder{header: make(http.Header), status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := NewEntry(rec.body.Bytes(), rec.header.Get("Content-Type"), rec.status, DefaultTTL)
		if m != nil {
			entry.Expires = entry.CachedAt.Add(m.TTL())
		}
		for k, v := range rec.header {
			w.Header()[k] = v
		}

		if rec.status != http.StatusOK {
			w.WriteHeader(rec.status)
			w.Write(rec.body.Bytes())
			return
		}

		if m != nil && ok {
			w.Header().Set("X-Cache", "MISS")
			if err := m.Set(r.Context(), key, entry); err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("Cache write failed")
			}
		}
		writeEntry(w, r, entry)
	})
}

// writeEntry writes entry, answering 304 when the request already holds it.
func writeEntry(w http.ResponseWriter, r *http.Request, entry *CacheEntry) {
	w.Header().Set("ETag", entry.ETag)
	if NotModifiedFor(r, entry.ETag) {
		NotModified.Inc()
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Data)
}

// NotModifiedFor reports whether the request's If-None-Match matches etag.
func NotModifiedFor(r *http.Request, etag string) bool {
	header := r.Header.Get("If-None-Match")
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// recorder buffers a handler's response.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
	wrote  bool
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wrote = true
	return r.body.Write(p)
}
