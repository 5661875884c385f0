package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fleetsync/internal/client/clickup"
)

// ResolveCustomField converts a custom field value into a scalar cell value.
func ResolveCustomField(cf clickup.CustomField) any {
	if !cf.HasValue() {
		return ""
	}
	typ := strings.ToLower(strings.TrimSpace(cf.Type))
	switch {
	case typ == "labels":
		return resolveLabels(cf)
	case typ == "drop_down" || len(cf.TypeConfig.Options) > 0:
		return resolveDropDown(cf)
	case typ == "date":
		return resolveDate(cf)
	case typ == "currency" || typ == "number" || typ == "formula":
		return resolveNumber(cf)
	default:
		return rawValue(cf.Value)
	}
}

func resolveDropDown(cf clickup.CustomField) any {
	value := clickup.ScalarString(cf.Value)
	for _, opt := range cf.TypeConfig.Options {
		if value == "" {
			break
		}
		if opt.OrderIndexString() == value || opt.ID == value {
			if opt.Name != "" {
				return opt.Name
			}
			return opt.Label
		}
	}
	return rawValue(cf.Value)
}

func resolveLabels(cf clickup.CustomField) any {
	var ids []string
	if err := json.Unmarshal(cf.Value, &ids); err != nil {
		return rawValue(cf.Value)
	}
	labels := make([]string, 0, len(ids))
	for _, id := range ids {
		for _, opt := range cf.TypeConfig.Options {
			if opt.ID != id {
				continue
			}
			label := opt.Label
			if label == "" {
				label = opt.Name
			}
			labels = append(labels, label)
			break
		}
	}
	return strings.Join(labels, ", ")
}

func resolveDate(cf clickup.CustomField) any {
	value := clickup.ScalarString(cf.Value)
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return rawValue(cf.Value)
	}
	return time.UnixMilli(ms).UTC()
}

func resolveNumber(cf clickup.CustomField) any {
	value := clickup.ScalarString(cf.Value)
	if value == "" {
		return ""
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return ""
	}
	f, _ := d.Float64()
	return f
}

// rawValue decodes scalars to their Go value and keeps objects and arrays as
// compact JSON text so every cell stays a scalar.
func rawValue(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return string(raw)
		}
		return string(b)
	case nil:
		return ""
	default:
		return v
	}
}
