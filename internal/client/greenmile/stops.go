package greenmile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	KeyRoute          = "route.key"
	KeySequence       = "stop.plannedSequenceNum"
	KeyDeparture      = "stop.actualDeparture"
	KeyOrdersInfo     = "stop.ordersInfo"
	KeyOrdersNumber   = "stop.orders.number"
	KeyPlannedSize1   = "stop.plannedSize1"
	KeyPlannedSize3   = "stop.plannedSize3"
	keyPlannedSize3V  = "stop.plannedSize3.value"
	keyPlannedSize3Am = "stop.plannedSize3.amount"
)

// StopColumns are requested from the API and lead the stored header.
var StopColumns = []string{
	KeyRoute,
	KeySequence,
	"stop.actualArrival",
	KeyDeparture,
	"stop.hasSignature",
	"stop.undeliverableCode.description",
	"stop.deliveryStatus",
	"stop.location.description",
	"stop.location.addressLine1",
	"stop.location.district",
	"stop.actualSize1",
	KeyPlannedSize1,
	"stop.baseLineSize1",
	"stop.actualSize2",
	"stop.plannedSize2",
	KeyPlannedSize3,
	"stop.stopType.type",
	"stop.location.city",
	"stop.location.key",
}

// Flatten turns nested objects into dot-separated keys. Array elements are
// keyed by index.
func Flatten(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	flattenInto(out, "", item)
	return out
}

func flattenInto(out map[string]any, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenInto(out, joinKey(prefix, k), child)
		}
	case []any:
		for i, child := range t {
			flattenInto(out, joinKey(prefix, strconv.Itoa(i)), child)
		}
	default:
		if prefix != "" {
			out[prefix] = t
		}
	}
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

// StopFields flattens one API item into the stored stop shape: route key
// defaulted to the requested route, order numbers extracted, sizes parsed as
// numbers and the sequence as an integer.
func StopFields(item map[string]any, routeKey string) map[string]any {
	flat := Flatten(item)
	if strings.TrimSpace(fmt.Sprint(valueOr(flat[KeyRoute], ""))) == "" {
		flat[KeyRoute] = routeKey
	}

	flat[KeyOrdersNumber] = ordersNumber(flat)

	size3 := flat[KeyPlannedSize3]
	if size3 == nil {
		size3 = flat[keyPlannedSize3V]
	}
	if size3 == nil {
		size3 = flat[keyPlannedSize3Am]
	}
	flat[KeyPlannedSize3] = ParseNumber(size3)
	flat[KeyPlannedSize1] = ParseNumber(flat[KeyPlannedSize1])
	flat[KeySequence] = float64(ParseInt(flat[KeySequence]))
	return flat
}

// StopID identifies a stop across downloads.
func StopID(fields map[string]any) string {
	route := strings.TrimSpace(fmt.Sprint(valueOr(fields[KeyRoute], "")))
	if route == "" {
		return ""
	}
	return route + "#" + strconv.FormatInt(ParseInt(fields[KeySequence]), 10)
}

func ordersNumber(flat map[string]any) string {
	if raw, ok := flat[KeyOrdersInfo]; ok && raw != nil {
		return stripOrderChars(fmt.Sprint(raw))
	}
	// an array payload arrives flattened as stop.ordersInfo.0, .1, ...
	prefix := KeyOrdersInfo + "."
	type part struct {
		idx int
		val string
	}
	var parts []part
	for k, v := range flat {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(k, prefix))
		if err != nil {
			continue
		}
		parts = append(parts, part{idx: idx, val: fmt.Sprint(v)})
	}
	if len(parts) == 0 {
		return ""
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].idx < parts[j].idx })
	vals := make([]string, len(parts))
	for i, p := range parts {
		vals[i] = p.val
	}
	return stripOrderChars(strings.Join(vals, ","))
}

func stripOrderChars(s string) string {
	return strings.NewReplacer("[", "", "]", "", `"`, "").Replace(s)
}

// ParseNumber reads locale-formatted amounts such as "1.234,56", "1,234.56"
// or "R$ 12,5". Whichever of comma and dot comes last is the decimal mark;
// with dots only, every dot but the last is a thousands separator. The
// longest numeric prefix is kept and anything unreadable is 0.
func ParseNumber(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case bool:
		return 0
	}

	var b strings.Builder
	for _, r := range fmt.Sprint(v) {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot > lastComma:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ".", "")
		i := strings.LastIndex(s, ",")
		s = strings.ReplaceAll(s[:i], ",", "") + "." + s[i+1:]
	case lastDot >= 0:
		s = strings.ReplaceAll(s[:lastDot], ".", "") + s[lastDot:]
	}

	d, err := decimal.NewFromString(numericPrefix(s))
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// numericPrefix returns the leading [-]digits[.digits] of s.
func numericPrefix(s string) string {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	intEnd := i
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j > i+1 {
			i = j
		}
	}
	if intEnd == start && i == intEnd {
		return ""
	}
	if intEnd == start {
		return s[:start] + "0" + s[start:i]
	}
	return s[:i]
}

// ParseInt truncates the value to an integer; unreadable values are 0.
func ParseInt(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// IsPending reports whether a stored stop has not departed yet.
func IsPending(fields map[string]any) bool {
	v, ok := fields[KeyDeparture]
	if !ok || v == nil {
		return true
	}
	return strings.TrimSpace(fmt.Sprint(v)) == ""
}

func valueOr(v, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}
