package record

import (
	"strings"
	"time"
)

// Column names of the fixed task schema.
const (
	ColID          = "ID"
	ColName        = "Nome"
	ColStatus      = "Status"
	ColStatusColor = "Status Cor"
	ColURL         = "URL"
	ColCreatedAt   = "Data de Criação"
	ColClosedAt    = "Data de Fechamento"
	ColUpdatedAt   = "Data de Atualização"
	ColPriority    = "Prioridade"
	ColEstimateH   = "Tempo Estimado (h)"
	ColSpentH      = "Tempo Gasto (h)"
	ColTaskType    = "Tipo de Tarefa"
	ColParentID    = "ID do Pai"
	ColChecklists  = "Checklists"
)

const (
	TaskTypeMain    = "Tarefa Principal"
	TaskTypeSubtask = "Subtask"
)

// TaskColumns is the base header every task collection starts with.
var TaskColumns = []string{
	ColID, ColName, ColStatus, ColStatusColor, ColURL,
	ColCreatedAt, ColClosedAt, ColUpdatedAt,
	ColPriority, ColEstimateH, ColSpentH,
	ColTaskType, ColParentID, ColChecklists,
}

// Record is one row of a collection. ID is the only identity used by merge
// and reconcile; Fields carries every column including ID.
type Record struct {
	ID     string
	Fields map[string]any
}

func New(id string) Record {
	id = strings.TrimSpace(id)
	return Record{ID: id, Fields: map[string]any{ColID: id}}
}

func (r Record) Get(column string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[column]
}

func (r Record) Text(column string) string {
	switch v := r.Get(column).(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return strings.TrimSpace(toString(v))
	}
}

// Time returns the column as a time, accepting time values and RFC 3339
// strings (the form dates take after a round trip through the store).
func (r Record) Time(column string) (time.Time, bool) {
	switch v := r.Get(column).(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func (r Record) Set(column string, value any) {
	if r.Fields == nil {
		return
	}
	r.Fields[column] = value
}

func (r Record) Clone() Record {
	out := Record{ID: r.ID, Fields: make(map[string]any, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// IDs returns the set of identifiers in records, skipping empty ones.
func IDs(records []Record) map[string]struct{} {
	out := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		out[r.ID] = struct{}{}
	}
	return out
}
