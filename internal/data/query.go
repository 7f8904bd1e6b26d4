package data

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"mock-auth-api/internal/storage"
)

const defaultPageSize = 10

// Query is the parsed query string of a list request. Keys starting with an
// underscore are controls, every other key is an equality filter.
type Query struct {
	Filters map[string][]string
	Sort    []string
	Desc    []bool
	Start   int
	End     int
	Limit   int
	Page    int
}

func ParseQuery(values url.Values) (Query, error) {
	q := Query{Filters: make(map[string][]string), End: -1, Limit: -1}

	for key, vals := range values {
		if !strings.HasPrefix(key, "_") {
			q.Filters[key] = vals
		}
	}

	if sortBy := values.Get("_sort"); sortBy != "" {
		q.Sort = strings.Split(sortBy, ",")
		orders := strings.Split(values.Get("_order"), ",")
		q.Desc = make([]bool, len(q.Sort))
		for i := range q.Sort {
			if i < len(orders) && strings.EqualFold(strings.TrimSpace(orders[i]), "desc") {
				q.Desc[i] = true
			}
		}
	}

	var err error
	if q.Start, err = intParam(values, "_start", 0); err != nil {
		return Query{}, err
	}
	if q.End, err = intParam(values, "_end", -1); err != nil {
		return Query{}, err
	}
	if q.Limit, err = intParam(values, "_limit", -1); err != nil {
		return Query{}, err
	}
	if q.Page, err = intParam(values, "_page", 0); err != nil {
		return Query{}, err
	}

	return q, nil
}

// Apply filters, sorts and slices docs. total is the count after filtering.
func (q Query) Apply(docs []storage.Document) (result []storage.Document, total int) {
	filtered := make([]storage.Document, 0, len(docs))
	for _, doc := range docs {
		if q.matches(doc) {
			filtered = append(filtered, doc)
		}
	}

	if len(q.Sort) > 0 {
		slices.SortStableFunc(filtered, func(a, b storage.Document) int {
			for i, field := range q.Sort {
				c := compareValues(lookup(a, field), lookup(b, field))
				if q.Desc[i] {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	total = len(filtered)
	start, end := 0, total
	switch {
	case q.Page > 0:
		size := q.Limit
		if size <= 0 {
			size = defaultPageSize
		}
		start = (q.Page - 1) * size
		end = start + size
	case q.Start > 0 || q.End >= 0 || q.Limit >= 0:
		start = q.Start
		if q.End >= 0 {
			end = q.End
		} else if q.Limit >= 0 {
			end = start + q.Limit
		}
	}

	start = min(max(start, 0), total)
	end = min(max(end, start), total)
	return filtered[start:end], total
}

func (q Query) matches(doc storage.Document) bool {
	for field, wanted := range q.Filters {
		value, ok := lookupOK(doc, field)
		if !ok {
			return false
		}
		if !slices.Contains(wanted, stringify(value)) {
			return false
		}
	}
	return true
}

func intParam(values url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return parsed, nil
}

func lookup(doc storage.Document, path string) any {
	value, _ := lookupOK(doc, path)
	return value
}

// lookupOK resolves dotted paths such as "author.name".
func lookupOK(doc storage.Document, path string) (any, bool) {
	var current any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func compareValues(a, b any) int {
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		return cmp.Compare(af, bf)
	}
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}
