package merge

import "fleetsync/internal/record"

type Result struct {
	Records  []record.Record
	Inserted int
	Updated  int
}

// Merge overlays incoming on existing by record ID. Incoming wins, existing
// order is kept and new IDs are appended in first-seen order. Records
// without an ID are dropped from both sides. Neither input is modified.
func Merge(existing, incoming []record.Record) Result {
	index := make(map[string]int, len(existing)+len(incoming))
	out := make([]record.Record, 0, len(existing)+len(incoming))
	for _, r := range existing {
		if r.ID == "" {
			continue
		}
		if i, ok := index[r.ID]; ok {
			out[i] = r.Clone()
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r.Clone())
	}

	var result Result
	counted := make(map[string]struct{}, len(incoming))
	for _, r := range incoming {
		if r.ID == "" {
			continue
		}
		if _, seen := counted[r.ID]; !seen {
			counted[r.ID] = struct{}{}
			if _, existed := index[r.ID]; existed {
				result.Updated++
			} else {
				result.Inserted++
			}
		}
		if i, ok := index[r.ID]; ok {
			out[i] = r.Clone()
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r.Clone())
	}
	result.Records = out
	return result
}
