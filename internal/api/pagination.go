package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit/offset query parameters, clamping limit to
// [1,maxPageLimit] and defaulting to defaultPageLimit, and offset to >=0.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func paginateStreams(items []streamSummaryResponse, limit, offset int) []streamSummaryResponse {
	if offset >= len(items) {
		return []streamSummaryResponse{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func paginateSnapshots(items []snapshotResponse, limit, offset int) []snapshotResponse {
	if offset >= len(items) {
		return []snapshotResponse{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func paginateBookmarks(items []bookmarkResponse, limit, offset int) []bookmarkResponse {
	if offset >= len(items) {
		return []bookmarkResponse{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
