package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetsync/internal/models"
	"fleetsync/internal/repository"
)

func TestOccurrenceRecord_Validation(t *testing.T) {
	svc := &OccurrenceService{Repo: newStubStore()}
	cases := []struct {
		name string
		item models.Occurrence
	}{
		{"no driver or route", models.Occurrence{Reason: "avaria"}},
		{"no reason", models.Occurrence{Route: "6101", Reason: "   "}},
	}
	for _, tc := range cases {
		if _, err := svc.Record(context.Background(), tc.item); !errors.Is(err, ErrInvalidOccurrence) {
			t.Fatalf("%s: err=%v want ErrInvalidOccurrence", tc.name, err)
		}
	}
}

func TestOccurrenceRecord_AssignsIdentityAndTime(t *testing.T) {
	store := newStubStore()
	svc := &OccurrenceService{Repo: store, Now: func() time.Time { return testNow }}

	got, err := svc.Record(context.Background(), models.Occurrence{Driver: " Joao ", Route: "6101", Reason: "cliente ausente"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.ID == "" || got.Driver != "Joao" {
		t.Fatalf("item=%+v", got)
	}
	if !got.OccurredAt.Equal(testNow) || !got.CreatedAt.Equal(testNow) {
		t.Fatalf("times occurred=%v created=%v", got.OccurredAt, got.CreatedAt)
	}

	items, total, err := svc.List(context.Background(), repository.ListOccurrencesParams{Limit: 10})
	if err != nil {
		t.Fatalf("list err=%v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != got.ID {
		t.Fatalf("items=%v total=%d", items, total)
	}
}

func TestFeatureSwitches(t *testing.T) {
	store := newStubStore()
	svc := &SystemSettingsService{Repo: store}
	ctx := context.Background()

	if err := svc.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure err=%v", err)
	}
	if !svc.IsEnabled(ctx, FeatureCollectionSync, false) {
		t.Fatalf("collection sync should default on")
	}
	if svc.IsEnabled(ctx, FeatureRouteSync, true) {
		t.Fatalf("route sync should default off")
	}

	sw, err := svc.SetEnabled(ctx, "route_sync", true, "127.0.0.1")
	if err != nil {
		t.Fatalf("set err=%v", err)
	}
	if sw.Key != FeatureRouteSync || sw.UpdatedBy != "127.0.0.1" {
		t.Fatalf("switch=%+v", sw)
	}
	if err := svc.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure err=%v", err)
	}
	switches, err := svc.Switches(ctx)
	if err != nil {
		t.Fatalf("switches err=%v", err)
	}
	if len(switches) != 2 || switches[0].Key != FeatureCollectionSync || switches[1].Key != FeatureRouteSync {
		t.Fatalf("switches=%+v", switches)
	}
	if !switches[0].Enabled || !switches[1].Enabled || switches[1].UpdatedBy != "127.0.0.1" {
		t.Fatalf("switches=%+v", switches)
	}
	if switches[0].UpdatedBy != "default" || switches[0].Description == "" {
		t.Fatalf("seeded switch=%+v", switches[0])
	}
	if svc.IsEnabled(ctx, "feature.unknown", true) != true {
		t.Fatalf("unknown switch should use fallback")
	}
}
