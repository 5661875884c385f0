package cache

import (
	"context"
	"encoding/json"
	"time"
)

// GetJSON decodes a cached value into out. A value that no longer decodes is
// treated as a miss.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	if s == nil {
		return false, nil
	}
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, nil
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, b, ttl)
}
