package record

import (
	"fmt"
	"sort"
	"strconv"
)

// MergeHeader appends to base every column from extra that is not already
// present, keeping first-seen order. Empty names are skipped.
func MergeHeader(base []string, extra ...[]string) []string {
	out := make([]string, 0, len(base))
	seen := make(map[string]struct{}, len(base))
	add := func(col string) {
		if col == "" {
			return
		}
		if _, ok := seen[col]; ok {
			return
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	for _, col := range base {
		add(col)
	}
	for _, cols := range extra {
		for _, col := range cols {
			add(col)
		}
	}
	return out
}

// Columns lists every field key used by records, sorted, excluding those in skip.
func Columns(records []Record, skip ...string) []string {
	skipSet := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipSet[s] = struct{}{}
	}
	seen := map[string]struct{}{}
	for _, r := range records {
		for k := range r.Fields {
			if _, ok := skipSet[k]; ok {
				continue
			}
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
