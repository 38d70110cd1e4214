package apitest

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"lifeline/internal/domain"
)

type record interface {
	Key() string
	StatusKey() string
	Value(field string) any
	SearchText() string
}

// listParams is the decoded page/filter/sort part of a list query.
type listParams struct {
	page      int
	limit     int
	filters   map[string][]string
	search    string
	sortField string
	desc      bool
}

func parseList(q url.Values, filterable ...string) listParams {
	p := listParams{
		page:      atoiDefault(q.Get("page"), 1),
		limit:     atoiDefault(q.Get("limit"), 10),
		filters:   map[string][]string{},
		search:    strings.ToLower(strings.TrimSpace(q.Get("search"))),
		sortField: q.Get("sortBy"),
		desc:      strings.EqualFold(q.Get("sortOrder"), string(domain.SortDesc)),
	}
	if p.page < 1 {
		p.page = 1
	}
	if p.limit < 1 {
		p.limit = 10
	}
	if p.sortField == "" {
		p.sortField = "createdAt"
		p.desc = true
	}
	for _, f := range filterable {
		raw := strings.TrimSpace(q.Get(f))
		if raw == "" {
			continue
		}
		var vals []string
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				vals = append(vals, v)
			}
		}
		if len(vals) > 0 {
			p.filters[f] = vals
		}
	}
	return p
}

func atoiDefault(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

// matches applies every filter except skip, plus search.
func (p listParams) matches(rec record, skip string) bool {
	for field, vals := range p.filters {
		if field == skip {
			continue
		}
		got := fmt.Sprint(rec.Value(field))
		hit := false
		for _, v := range vals {
			if strings.EqualFold(got, v) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if p.search != "" && !strings.Contains(strings.ToLower(rec.SearchText()), p.search) {
		return false
	}
	return true
}

func (p listParams) less(a, b record) bool {
	av, bv := a.Value(p.sortField), b.Value(p.sortField)
	var c int
	switch x := av.(type) {
	case time.Time:
		y, _ := bv.(time.Time)
		c = x.Compare(y)
	default:
		c = strings.Compare(strings.ToLower(fmt.Sprint(av)), strings.ToLower(fmt.Sprint(bv)))
	}
	if p.desc {
		return c > 0
	}
	return c < 0
}

// paginate filters, sorts and slices items, and computes per-status stats
// over everything that matched the non-status filters.
func paginate[T record](items []T, p listParams) ([]T, domain.Pagination, map[string]int) {
	stats := map[string]int{}
	matched := make([]T, 0, len(items))
	for _, it := range items {
		if !p.matches(it, "status") {
			continue
		}
		stats[it.StatusKey()]++
		if p.matches(it, "") {
			matched = append(matched, it)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if p.less(matched[i], matched[j]) {
			return true
		}
		if p.less(matched[j], matched[i]) {
			return false
		}
		return matched[i].Key() < matched[j].Key()
	})

	total := len(matched)
	pages := (total + p.limit - 1) / p.limit
	if pages == 0 {
		pages = 1
	}
	start := (p.page - 1) * p.limit
	if start > total {
		start = total
	}
	end := start + p.limit
	if end > total {
		end = total
	}
	out := append([]T(nil), matched[start:end]...)
	if out == nil {
		out = []T{}
	}
	return out, domain.Pagination{Page: p.page, Limit: p.limit, TotalPages: pages, TotalItems: total}, stats
}
