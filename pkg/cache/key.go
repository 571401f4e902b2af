package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const keyPrefix = "fleet"

// CacheKey identifies one cached API response.
type CacheKey struct {
	// Project is the project the response belongs to.
	Project string

	// Endpoint names the API operation (e.g. "devices", "device-stats").
	Endpoint string

	// QueryParams are the request's query parameters.
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: fleet:project:endpoint:query1=val1:query2=val2
//
// Example:
//
//	fleet:2228:devices:limit=10:page=2
func (k CacheKey) String() string {
	parts := []string{ProjectPrefix(k.Project)}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Query params sorted for determinism; empty values are dropped so that
	// "?page=" and no page share an entry.
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			if k.QueryParams.Get(key) != "" {
				queryKeys = append(queryKeys, key)
			}
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, url.QueryEscape(k.QueryParams.Get(key))))
		}
	}

	return strings.Join(parts, ":")
}

// ProjectPrefix returns the key prefix shared by every entry of project.
func ProjectPrefix(project string) string {
	return keyPrefix + ":" + project
}
