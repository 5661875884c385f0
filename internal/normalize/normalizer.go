package normalize

import (
	"strings"
	"time"

	"fleetsync/internal/client/clickup"
	"fleetsync/internal/record"
)

const (
	DefaultPriority = "N/A"
	NoParent        = "-"
)

// Filter decides which upstream tasks a collection keeps.
type Filter struct {
	IgnoredStatuses []string
	MinCreated      time.Time
	// Unfiltered collections (rosters) keep every task.
	Unfiltered bool
}

// Normalizer maps ClickUp tasks to records. It is safe for concurrent use
// as long as the FieldMappings passed in is.
type Normalizer struct {
	filter  Filter
	ignored map[string]struct{}
}

func New(filter Filter) *Normalizer {
	ignored := make(map[string]struct{}, len(filter.IgnoredStatuses))
	for _, s := range filter.IgnoredStatuses {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			ignored[s] = struct{}{}
		}
	}
	return &Normalizer{filter: filter, ignored: ignored}
}

// Accept reports whether the task passes the collection filter.
func (n *Normalizer) Accept(task clickup.Task) bool {
	if strings.TrimSpace(task.ID) == "" {
		return false
	}
	if n.filter.Unfiltered {
		return true
	}
	if n.IsIgnoredStatus(task) {
		return false
	}
	created := task.DateCreated.Time()
	if !n.filter.MinCreated.IsZero() && (created.IsZero() || created.Before(n.filter.MinCreated)) {
		return false
	}
	return true
}

func (n *Normalizer) IsIgnoredStatus(task clickup.Task) bool {
	if task.Status == nil {
		return false
	}
	_, ok := n.ignored[strings.ToLower(strings.TrimSpace(task.Status.Status))]
	return ok
}

// Normalize returns the record for task, or false when the task is
// filtered out. Custom fields seen for the first time are registered in
// fields.
func (n *Normalizer) Normalize(task clickup.Task, fields *record.FieldMappings) (record.Record, bool) {
	if !n.Accept(task) {
		return record.Record{}, false
	}
	rec := record.New(task.ID)
	rec.Set(record.ColName, task.Name)
	status, color := "", ""
	if task.Status != nil {
		status, color = task.Status.Status, task.Status.Color
	}
	rec.Set(record.ColStatus, status)
	rec.Set(record.ColStatusColor, color)
	rec.Set(record.ColURL, task.URL)
	rec.Set(record.ColCreatedAt, dateValue(task.DateCreated))
	rec.Set(record.ColClosedAt, dateValue(task.DateClosed))
	rec.Set(record.ColUpdatedAt, dateValue(task.DateUpdated))

	priority := DefaultPriority
	if task.Priority != nil && strings.TrimSpace(task.Priority.Priority) != "" {
		priority = task.Priority.Priority
	}
	rec.Set(record.ColPriority, priority)
	rec.Set(record.ColEstimateH, hoursValue(task.TimeEstimate))
	rec.Set(record.ColSpentH, hoursValue(task.TimeSpent))

	if task.Parent != nil && strings.TrimSpace(*task.Parent) != "" {
		rec.Set(record.ColTaskType, record.TaskTypeSubtask)
		rec.Set(record.ColParentID, strings.TrimSpace(*task.Parent))
	} else {
		rec.Set(record.ColTaskType, record.TaskTypeMain)
		rec.Set(record.ColParentID, NoParent)
	}
	rec.Set(record.ColChecklists, checklistNames(task.Checklists))

	if fields == nil {
		fields = record.NewFieldMappings()
	}
	for _, cf := range task.CustomFields {
		if !cf.HasValue() || cf.ID == "" {
			continue
		}
		info, ok := fields.Lookup(cf.ID)
		if !ok {
			name := CanonicalFieldName(CleanFieldName(cf.Name))
			if name == "" {
				name = "Campo_" + cf.ID
			}
			info, _ = fields.Resolve(cf.ID, name, cf.Type)
		}
		rec.Set(info.Name, ResolveCustomField(cf))
	}
	return rec, true
}

func dateValue(ms clickup.Millis) any {
	if ms.IsZero() {
		return ""
	}
	return ms.Time()
}

func hoursValue(ms clickup.Millis) any {
	if ms.IsZero() {
		return ""
	}
	return ms.Hours()
}

func checklistNames(lists []clickup.Checklist) string {
	var names []string
	for _, c := range lists {
		for _, item := range c.Items {
			names = append(names, item.Name)
		}
	}
	return strings.Join(names, ", ")
}
