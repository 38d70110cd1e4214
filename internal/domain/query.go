package domain

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// SortOrder is the direction of the single active sort key.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Filters maps a field name to the values it may take. Fields are combined
// with AND; values of one field with OR. An empty value list is ignored.
type Filters map[string][]string

// Clone returns a deep copy of f.
func (f Filters) Clone() Filters {
	if f == nil {
		return Filters{}
	}
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Equal reports whether f and other select the same values.
func (f Filters) Equal(other Filters) bool {
	a, b := f.active(), other.active()
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		as := append([]string(nil), av...)
		bs := append([]string(nil), bv...)
		sort.Strings(as)
		sort.Strings(bs)
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
	}
	return true
}

func (f Filters) active() map[string][]string {
	out := make(map[string][]string, len(f))
	for k, v := range f {
		if len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

// Query describes one page request against a collection endpoint.
type Query struct {
	Page      int
	Limit     int
	Filters   Filters
	Search    string
	SortField string
	SortOrder SortOrder
}

// Values encodes q as URL query parameters in the backend's format.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := q.Filters[k]
		if len(vals) == 0 {
			continue
		}
		v.Set(k, strings.Join(vals, ","))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		v.Set("search", s)
	}
	if q.SortField != "" {
		v.Set("sortBy", q.SortField)
		order := q.SortOrder
		if order == "" {
			order = SortAsc
		}
		v.Set("sortOrder", string(order))
	}
	return v
}

// Pagination is the page metadata reported by the backend.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
	TotalItems int `json:"totalItems"`
}

// Page is one fetched page of a collection together with the server-reported
// per-status totals, when the endpoint provides them.
type Page[T any] struct {
	Items      []T
	Pagination Pagination
	Stats      map[string]int
}
