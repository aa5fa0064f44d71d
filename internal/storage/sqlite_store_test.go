package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

var baseTime = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, options ...func(*SqliteStore)) *SqliteStore {
	t.Helper()

	options = append([]func(*SqliteStore){WithClock(func() time.Time { return baseTime })}, options...)
	store := NewSqliteStore(filepath.Join(t.TempDir(), "telemetry.sqlite"), options...)
	if err := store.Init(); err != nil {
		t.Fatalf("initializing store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func stampedSample(offset time.Duration, roll float64) *telemetry.Sample {
	s := telemetry.Placeholder()
	*s.RollIMU1 = roll
	*s.BrakeStatus = 1
	s.SPGCurrent = nil
	s.Stamp(baseTime.Add(offset), time.FixedZone("MYT", 8*60*60))
	return s
}

func readAll(t *testing.T, store *SqliteStore, opts ...ReaderOption) []telemetry.Record {
	t.Helper()

	ctx := context.Background()
	reader, err := store.ReadSamples(ctx, opts...)
	if err != nil {
		t.Fatalf("creating reader: %v", err)
	}
	defer reader.Close()

	var out []telemetry.Record
	for reader.Next(ctx) {
		out = append(out, reader.Current())
	}
	if err = reader.Error(); err != nil {
		t.Fatalf("reading samples: %v", err)
	}
	return out
}

func TestSqliteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "/dev/ttyUSB0", 115200, map[string]any{"maxFrameSize": 65536})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive session ID, got %d", id)
	}

	session, err := store.Session(ctx, id)
	if err != nil {
		t.Fatalf("loading session: %v", err)
	}

	config := `{"maxFrameSize":65536}`
	want := &Session{ID: id, StartTime: baseTime, PortID: "/dev/ttyUSB0", BaudRate: 115200, Config: &config}
	if diff := cmp.Diff(want, session); diff != "" {
		t.Errorf("unexpected session (-want +got):\n%s", diff)
	}

	missing, err := store.Session(ctx, id+100)
	if err != nil || missing != nil {
		t.Errorf("expected nil session without error, got %v %v", missing, err)
	}

	if _, err = store.CreateSession(ctx, "COM3", 9600, nil); err != nil {
		t.Fatalf("creating session: %v", err)
	}
	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("listing sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[1].Config != nil {
		t.Errorf("expected nil config, got %q", *sessions[1].Config)
	}
}

func TestSqliteStore_InsertAndRead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, WithMaxBatchSize(2))

	first, err := store.CreateSession(ctx, "bench.jsonl", 115200, nil)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	second, err := store.CreateSession(ctx, "bench.jsonl", 115200, nil)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	records := []telemetry.Record{
		{SessionID: first, Sample: stampedSample(0, 1)},
		{SessionID: first, Sample: stampedSample(time.Second, 2)},
		{SessionID: first, Sample: stampedSample(2*time.Second, 3)},
		{SessionID: second, Sample: stampedSample(3*time.Second, 4)},
		{SessionID: 0, Sample: stampedSample(4*time.Second, 5)},
	}
	if err = store.InsertSamples(ctx, records); err != nil {
		t.Fatalf("inserting samples: %v", err)
	}

	t.Run("all", func(t *testing.T) {
		got := readAll(t, store)
		if diff := cmp.Diff(records, got); diff != "" {
			t.Errorf("unexpected records (-want +got):\n%s", diff)
		}
	})

	t.Run("session", func(t *testing.T) {
		got := readAll(t, store, WithSession(first))
		if diff := cmp.Diff(records[:3], got); diff != "" {
			t.Errorf("unexpected records (-want +got):\n%s", diff)
		}
	})

	t.Run("time range", func(t *testing.T) {
		got := readAll(t, store, WithTimeRange(baseTime.Add(time.Second), baseTime.Add(3*time.Second)))
		if diff := cmp.Diff(records[1:4], got); diff != "" {
			t.Errorf("unexpected records (-want +got):\n%s", diff)
		}
	})

	t.Run("summary", func(t *testing.T) {
		summary, err := store.Summary(ctx, 0)
		if err != nil {
			t.Fatalf("summary: %v", err)
		}
		want := &Summary{Count: 5, First: baseTime, Last: baseTime.Add(4 * time.Second)}
		if diff := cmp.Diff(want, summary); diff != "" {
			t.Errorf("unexpected summary (-want +got):\n%s", diff)
		}
	})
}

func TestSqliteStore_ReaderInvalidRange(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ReadSamples(context.Background(), WithTimeRange(baseTime, baseTime.Add(-time.Second)))
	if err == nil {
		t.Fatal("expected error for inverted time range")
	}
}

func TestSqliteStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "COM3", 115200, nil)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if err = store.InsertSamples(ctx, []telemetry.Record{{SessionID: id, Sample: stampedSample(0, 1)}}); err != nil {
		t.Fatalf("inserting samples: %v", err)
	}

	if err = store.Clear(ctx); err != nil {
		t.Fatalf("clearing: %v", err)
	}

	if got := readAll(t, store); len(got) != 0 {
		t.Errorf("expected no samples after clear, got %d", len(got))
	}

	summary, err := store.Summary(ctx, 0)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Count != 0 || !summary.First.IsZero() {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestSqliteStore_Close(t *testing.T) {
	store := NewSqliteStore(filepath.Join(t.TempDir(), "telemetry.sqlite"))
	if err := store.Init(); err != nil {
		t.Fatalf("initializing store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
}
