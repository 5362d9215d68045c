package storage

import (
	"testing"
	"time"

	"optionflow/models"
)

func TestArtifactPath(t *testing.T) {
	date := time.Date(2026, 8, 21, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		kind   string
		code   models.ExpiryCode
		offset int
		want   string
	}{
		{KindOptions, models.ExpiryThisWeek, -1, "/data/options/NIFTY/this_week/-1/2026-08-21.csv"},
		{KindOptions, models.ExpiryThisWeek, 0, "/data/options/NIFTY/this_week/0/2026-08-21.csv"},
		{KindOptions, models.ExpiryThisWeek, 1, "/data/options/NIFTY/this_week/1/2026-08-21.csv"},
		{KindOptions, models.ExpiryNextMonth, -3, "/data/options/NIFTY/next_month/-3/2026-08-21.csv"},
		{KindOverview, models.ExpiryThisWeek, 0, "/data/overview/NIFTY/this_week/0/2026-08-21.csv"},
	}
	for _, tc := range cases {
		got := ArtifactPath("/data", tc.kind, "NIFTY", tc.code, tc.offset, date, "csv")
		if got != tc.want {
			t.Errorf("ArtifactPath(%s, %s, %d) = %s, want %s", tc.kind, tc.code, tc.offset, got, tc.want)
		}
	}
}

func TestArtifactPathNoCollisions(t *testing.T) {
	date := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)
	indices := []string{"NIFTY", "BANKNIFTY"}
	offsets := []int{-2, -1, 0, 1, 2}

	seen := make(map[string]struct{})
	total := 0
	for _, kind := range []string{KindOverview, KindOptions} {
		for _, index := range indices {
			for _, code := range models.AllExpiryCodes {
				for _, offset := range offsets {
					seen[ArtifactPath("/data", kind, index, code, offset, date, "csv")] = struct{}{}
					total++
				}
			}
		}
	}
	if len(seen) != total {
		t.Errorf("%d distinct paths from %d streams, want no collisions", len(seen), total)
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 8, 21, 10, 15, 30, 0, time.UTC)

	got := ObjectKey("archive", KindOptions, "BANKNIFTY", models.ExpiryNextWeek, 2, at, "abc123")
	want := "archive/options/BANKNIFTY/next_week/2/date=2026-08-21/20260821101530_abc123.parquet"
	if got != want {
		t.Errorf("ObjectKey = %s, want %s", got, want)
	}

	got = ObjectKey("", KindOverview, "NIFTY", models.ExpiryThisWeek, 0, at, "abc123")
	want = "overview/NIFTY/this_week/0/date=2026-08-21/20260821101530_abc123.parquet"
	if got != want {
		t.Errorf("ObjectKey with empty prefix = %s, want %s", got, want)
	}
}
