package greenmile

import "testing"

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{nil, 0},
		{12.5, 12.5},
		{"1.234,56", 1234.56},
		{"R$ 12,5", 12.5},
		{"1.234.567", 1234.567},
		{"1,234.56", 1234.56},
		{"-3,2", -3.2},
		{"abc", 0},
		{"", 0},
		{",5", 0.5},
	}
	for _, tc := range cases {
		if got := ParseNumber(tc.in); got != tc.want {
			t.Fatalf("ParseNumber(%v)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestParseInt(t *testing.T) {
	cases := []struct {
		in   any
		want int64
	}{
		{nil, 0},
		{float64(7), 7},
		{"12", 12},
		{"12abc", 12},
		{"x", 0},
	}
	for _, tc := range cases {
		if got := ParseInt(tc.in); got != tc.want {
			t.Fatalf("ParseInt(%v)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestStopFields(t *testing.T) {
	item := map[string]any{
		"stop": map[string]any{
			"plannedSequenceNum": "3",
			"plannedSize1":       "10,5",
			"plannedSize3":       map[string]any{"value": "1.500,25"},
			"ordersInfo":         `["NF1","NF2"]`,
			"location":           map[string]any{"city": "Fortaleza"},
		},
	}
	got := StopFields(item, "610999")

	if got[KeyRoute] != "610999" {
		t.Fatalf("route=%v", got[KeyRoute])
	}
	if got[KeySequence] != float64(3) {
		t.Fatalf("seq=%v", got[KeySequence])
	}
	if got[KeyPlannedSize1] != 10.5 || got[KeyPlannedSize3] != 1500.25 {
		t.Fatalf("sizes=%v/%v", got[KeyPlannedSize1], got[KeyPlannedSize3])
	}
	if got[KeyOrdersNumber] != "NF1,NF2" {
		t.Fatalf("orders=%v", got[KeyOrdersNumber])
	}
	if got["stop.location.city"] != "Fortaleza" {
		t.Fatalf("city=%v", got["stop.location.city"])
	}
	if id := StopID(got); id != "610999#3" {
		t.Fatalf("id=%q", id)
	}
}

func TestStopFields_OrdersArray(t *testing.T) {
	item := map[string]any{
		"route": map[string]any{"key": "610001"},
		"stop":  map[string]any{"ordersInfo": []any{"A", "B"}},
	}
	got := StopFields(item, "ignored")
	if got[KeyRoute] != "610001" {
		t.Fatalf("route=%v", got[KeyRoute])
	}
	if got[KeyOrdersNumber] != "A,B" {
		t.Fatalf("orders=%v", got[KeyOrdersNumber])
	}
}

func TestIsPending(t *testing.T) {
	if !IsPending(map[string]any{}) || !IsPending(map[string]any{KeyDeparture: " "}) {
		t.Fatalf("missing departure should be pending")
	}
	if IsPending(map[string]any{KeyDeparture: "2025-12-03T10:00:00Z"}) {
		t.Fatalf("departed stop reported pending")
	}
}
