package collection

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"lifeline/internal/domain"
)

// Project returns the records of items that satisfy every active filter and
// the free-text search, ordered by sortField. It never mutates items. An
// empty sortField keeps the fetched order. The sort is stable.
func Project[T Record](items []T, filters domain.Filters, search, sortField string, order domain.SortOrder) []T {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]T, 0, len(items))
	for _, it := range items {
		if Matches(it, filters) && (needle == "" || strings.Contains(strings.ToLower(it.SearchText()), needle)) {
			out = append(out, it)
		}
	}
	if sortField != "" {
		desc := order == domain.SortDesc
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i].Value(sortField), out[j].Value(sortField))
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	return out
}

// Matches reports whether rec satisfies every filter: AND across fields, OR
// across the values of one field. Comparison is case-insensitive on the
// field's string form.
func Matches[T Record](rec T, filters domain.Filters) bool {
	for field, vals := range filters {
		if len(vals) == 0 {
			continue
		}
		got := stringValue(rec.Value(field))
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
	return true
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case int:
		if y, ok := b.(int); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(strings.ToLower(stringValue(a)), strings.ToLower(stringValue(b)))
}
