package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tipfeed/internal/notification"
	"tipfeed/internal/push"
	"tipfeed/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state")
	if driver == "sqlite" {
		path += ".db"
	} else {
		path += ".json"
	}
	s, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			s := openTestStore(t, driver)

			feed := []notification.Record{
				{ID: "tip_1", Type: notification.TypeTip, Title: "New Tip", Priority: notification.PriorityHigh},
				{ID: "rec_2", Type: notification.TypeRecommendation, Title: "New Stock Recommendation", Read: true},
			}
			if err := s.SaveFeed(ctx, feed, 1); err != nil {
				t.Fatalf("SaveFeed: %v", err)
			}
			got, unread, err := s.LoadFeed(ctx)
			if err != nil {
				t.Fatalf("LoadFeed: %v", err)
			}
			if len(got) != 2 || unread != 1 {
				t.Fatalf("LoadFeed = %d records / %d unread", len(got), unread)
			}
			if got[0].ID != "tip_1" || got[1].Read != true {
				t.Fatalf("feed round-trip mismatch: %+v", got)
			}

			prefs := notification.DefaultPreferences()
			prefs.Frequency = notification.FrequencyWeekly
			if err := s.SavePreferences(ctx, prefs); err != nil {
				t.Fatalf("SavePreferences: %v", err)
			}
			p, ok, err := s.LoadPreferences(ctx)
			if err != nil || !ok {
				t.Fatalf("LoadPreferences = (%v, %v)", ok, err)
			}
			if p.Frequency != notification.FrequencyWeekly {
				t.Fatalf("Frequency = %s", p.Frequency)
			}

			tok := push.DeviceToken{Token: "dev_x", UserAgent: "ua"}
			if err := s.SaveDeviceToken(ctx, tok); err != nil {
				t.Fatalf("SaveDeviceToken: %v", err)
			}
			loaded, ok, err := s.LoadDeviceToken(ctx)
			if err != nil || !ok || loaded.Token != "dev_x" {
				t.Fatalf("LoadDeviceToken = (%+v, %v, %v)", loaded, ok, err)
			}
			if err := s.DeleteDeviceToken(ctx); err != nil {
				t.Fatalf("DeleteDeviceToken: %v", err)
			}
			if _, ok, _ := s.LoadDeviceToken(ctx); ok {
				t.Fatal("token survived delete")
			}
		})
	}
}

func TestEmptyStoreLoads(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "file")

	recs, unread, err := s.LoadFeed(ctx)
	if err != nil || len(recs) != 0 || unread != 0 {
		t.Fatalf("LoadFeed on empty store = (%v, %d, %v)", recs, unread, err)
	}
	if _, ok, err := s.LoadPreferences(ctx); ok || err != nil {
		t.Fatalf("LoadPreferences on empty store = (%v, %v)", ok, err)
	}
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open over corrupt snapshot: %v", err)
	}
	defer s.Close()

	recs, unread, err := s.LoadFeed(context.Background())
	if err != nil || len(recs) != 0 || unread != 0 {
		t.Fatalf("corrupt snapshot should start empty, got (%v, %d, %v)", recs, unread, err)
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || s != nil {
			t.Fatalf("Open(%q) = (%v, %v), want disabled", driver, s, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
