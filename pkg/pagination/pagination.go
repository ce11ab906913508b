// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Package pagination provides shared types and helpers for API list endpoints.
//
// # Overview
//
// It standardizes how page-based navigation is requested via the "page" and
// "page_size" query parameters and how the resulting metadata is delivered
// in the API response envelope.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	// DefaultPageSize is the number of items per page if not specified.
	DefaultPageSize = 20
	// MaxPageSize is the upper bound for items per page to prevent system abuse.
	MaxPageSize = 200
	// DefaultPage is the starting page (1-indexed).
	DefaultPage = 1
)

// Params holds the parsed page and page size from a request's query string.
type Params struct {
	Page     int
	PageSize int
}

// Offset returns the SQL OFFSET value derived from [Page] and [PageSize].
func (p Params) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Meta is the pagination metadata included in API list responses.
type Meta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewMeta constructs pagination metadata for a response.
//
// It automatically calculates the TotalPages based on the total count and page size.
func NewMeta(page, pageSize, total int) Meta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	return Meta{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

// FromRequest parses "page" and "page_size" query parameters from an HTTP request.
//
// # Clamping
//
// Invalid, negative, or excessive values are automatically clamped to
// [DefaultPage], [DefaultPageSize], or [MaxPageSize].
func FromRequest(r *http.Request) Params {
	page := parseIntParam(r, "page", DefaultPage)
	pageSize := parseIntParam(r, "page_size", DefaultPageSize)

	if page < 1 {
		page = DefaultPage
	}

	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}

	return Params{Page: page, PageSize: pageSize}
}

// parseIntParam parses a single integer query parameter with a fallback default.
func parseIntParam(r *http.Request, key string, defaultVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}

	return n
}
