package service

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"

	"fleetsync/internal/models"
)

// cloneState copies the stored row so a partial update keeps the columns it
// does not touch; the store upserts whole rows.
func cloneState(scope string, state *models.SyncState) *models.SyncState {
	if state == nil {
		return &models.SyncState{Scope: scope}
	}
	next := *state
	next.Scope = scope
	return &next
}

func statsJSON(v any) datatypes.JSON {
	payload, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(payload)
}

func strPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
