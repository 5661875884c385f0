package clickup

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Task struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Status       *TaskStatus   `json:"status"`
	URL          string        `json:"url"`
	DateCreated  Millis        `json:"date_created"`
	DateClosed   Millis        `json:"date_closed"`
	DateUpdated  Millis        `json:"date_updated"`
	Priority     *Priority     `json:"priority"`
	TimeEstimate Millis        `json:"time_estimate"`
	TimeSpent    Millis        `json:"time_spent"`
	Parent       *string       `json:"parent"`
	Checklists   []Checklist   `json:"checklists"`
	CustomFields []CustomField `json:"custom_fields"`
}

type TaskStatus struct {
	Status string `json:"status"`
	Color  string `json:"color"`
}

type Priority struct {
	Priority string `json:"priority"`
	Color    string `json:"color"`
}

type Checklist struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Items []ChecklistItem `json:"items"`
}

type ChecklistItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CustomField struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	TypeConfig TypeConfig      `json:"type_config"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// HasValue reports whether the field carries a non-null value.
func (f CustomField) HasValue() bool {
	v := bytes.TrimSpace(f.Value)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

type TypeConfig struct {
	Options []Option `json:"options"`
}

// Option covers both drop_down options (name + orderindex) and labels
// options (label).
type Option struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Label      string          `json:"label"`
	Color      string          `json:"color"`
	OrderIndex json.RawMessage `json:"orderindex"`
}

// OrderIndexString returns the orderindex as text regardless of whether the
// API sent it as a number or a string.
func (o Option) OrderIndexString() string {
	return ScalarString(o.OrderIndex)
}

type listTasksResponse struct {
	Tasks    []Task `json:"tasks"`
	LastPage bool   `json:"last_page"`
}

type updateTaskRequest struct {
	Status string `json:"status"`
}

// Millis is a unix-millisecond value the API sends either as a JSON string
// or a number. Zero means absent.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	s := ScalarString(b)
	if s == "" {
		*m = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			*m = 0
			return nil
		}
		n = int64(f)
	}
	*m = Millis(n)
	return nil
}

func (m Millis) MarshalJSON() ([]byte, error) {
	if m == 0 {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(strconv.FormatInt(int64(m), 10))), nil
}

func (m Millis) IsZero() bool { return m == 0 }

func (m Millis) Time() time.Time {
	if m == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(m)).UTC()
}

// Hours converts a millisecond duration to fractional hours.
func (m Millis) Hours() float64 {
	return float64(m) / float64(time.Hour/time.Millisecond)
}

// ScalarString unwraps a JSON string or number into plain text. null and
// non-scalar values yield "".
func ScalarString(raw json.RawMessage) string {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	if v[0] == '{' || v[0] == '[' {
		return ""
	}
	return string(v)
}
