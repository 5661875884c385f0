package record

import "sync"

// FieldInfo is the display name and upstream type resolved for a custom field.
type FieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FieldMappings accumulates custom-field id → column name for one fetch run.
// The first name registered for an id wins, so later label edits upstream
// cannot split one field into two columns within a run.
type FieldMappings struct {
	mu    sync.Mutex
	byID  map[string]FieldInfo
	order []string
}

func NewFieldMappings() *FieldMappings {
	return &FieldMappings{byID: map[string]FieldInfo{}}
}

// Resolve returns the mapping for id, registering name/typ when id is new.
// The bool reports whether the id was registered by this call.
func (m *FieldMappings) Resolve(id, name, typ string) (FieldInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.byID[id]; ok {
		return info, false
	}
	info := FieldInfo{Name: name, Type: typ}
	m.byID[id] = info
	m.order = append(m.order, id)
	return info, true
}

func (m *FieldMappings) Lookup(id string) (FieldInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.byID[id]
	return info, ok
}

// Columns returns the distinct column names in registration order.
func (m *FieldMappings) Columns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.order))
	seen := make(map[string]struct{}, len(m.order))
	for _, id := range m.order {
		name := m.byID[id].Name
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (m *FieldMappings) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
