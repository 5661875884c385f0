package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"fleetsync/internal/models"
	"fleetsync/internal/repository"
)

const (
	FeatureCollectionSync = "feature.collection_sync"
	FeatureRouteSync      = "feature.route_sync"

	featurePrefix = "feature."
	seededBy      = "default"
)

type featureDefault struct {
	enabled     bool
	description string
}

var featureDefaults = map[string]featureDefault{
	FeatureCollectionSync: {true, "cron runs the ClickUp collection sync"},
	FeatureRouteSync:      {false, "cron downloads GreenMile stops for pending routes"},
}

func DefaultFeatureSwitches() map[string]bool {
	out := make(map[string]bool, len(featureDefaults))
	for key, def := range featureDefaults {
		out[key] = def.enabled
	}
	return out
}

// Switch is the current state of one feature switch.
type Switch struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// SwitchKey accepts "route_sync" or "feature.route_sync".
func SwitchKey(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, featurePrefix) {
		return name
	}
	return featurePrefix + name
}

type SystemSettingsService struct {
	Repo repository.SettingsStore
	Now  func() time.Time
}

// EnsureDefaultSwitches creates missing switches. Stored values are never
// changed.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := s.now()
	for key, def := range featureDefaults {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		item := &models.SystemSetting{
			Key:         key,
			Value:       boolJSON(def.enabled),
			Description: def.description,
			UpdatedBy:   seededBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// IsEnabled returns fallback when the switch is missing or unreadable, or the
// store errors.
func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil {
		return fallback
	}
	enabled, ok := parseBool(item.Value)
	if !ok {
		return fallback
	}
	return enabled
}

// SetEnabled stores a switch; by names the caller for the audit column.
func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool, by string) (Switch, error) {
	key = SwitchKey(key)
	sw := Switch{Name: strings.TrimPrefix(key, featurePrefix), Key: key, Enabled: enabled, UpdatedBy: by, UpdatedAt: s.now()}
	if s == nil || s.Repo == nil || key == "" {
		return sw, nil
	}
	if def, ok := featureDefaults[key]; ok {
		sw.Description = def.description
	}
	item := &models.SystemSetting{
		Key:         key,
		Value:       boolJSON(enabled),
		Description: sw.Description,
		UpdatedBy:   by,
		UpdatedAt:   sw.UpdatedAt,
	}
	return sw, s.Repo.UpsertSystemSetting(ctx, item)
}

// Switches lists known defaults merged with every stored feature.* row,
// sorted by key.
func (s *SystemSettingsService) Switches(ctx context.Context) ([]Switch, error) {
	byKey := make(map[string]Switch, len(featureDefaults))
	for key, def := range featureDefaults {
		byKey[key] = Switch{Name: strings.TrimPrefix(key, featurePrefix), Key: key, Enabled: def.enabled, Description: def.description}
	}
	if s != nil && s.Repo != nil {
		prefix := featurePrefix
		items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Prefix: &prefix, Limit: 500})
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			enabled, ok := parseBool(item.Value)
			if !ok {
				continue
			}
			sw := byKey[item.Key]
			sw.Name = strings.TrimPrefix(item.Key, featurePrefix)
			sw.Key = item.Key
			sw.Enabled = enabled
			if item.Description != "" {
				sw.Description = item.Description
			}
			sw.UpdatedBy = item.UpdatedBy
			sw.UpdatedAt = item.UpdatedAt
			byKey[item.Key] = sw
		}
	}
	out := make([]Switch, 0, len(byKey))
	for _, sw := range byKey {
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *SystemSettingsService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func boolJSON(v bool) datatypes.JSON {
	raw, _ := json.Marshal(v)
	return datatypes.JSON(raw)
}

func parseBool(raw datatypes.JSON) (bool, bool) {
	if len(raw) == 0 {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}
