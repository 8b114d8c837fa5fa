package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/redeployr/internal/history"
)

func TestSQLiteSink_RoundTrip(t *testing.T) {
	// Create temporary database file
	tempDir := t.TempDir()
	dbPath := tempDir + "/test.db"

	// Create sink
	sink, err := New("file:" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	base := time.Now().Add(-time.Minute).UTC()

	// Send a stop and a start event for the same deploy
	stopEvent := history.Event{
		DeployID:   "deploy-1",
		Worker:     "bot",
		Phase:      history.PhaseStop,
		Status:     history.StatusOK,
		PID:        12345,
		Duration:   150 * time.Millisecond,
		OccurredAt: base,
	}
	if err := sink.Send(ctx, stopEvent); err != nil {
		t.Fatalf("Failed to send stop event: %v", err)
	}

	startEvent := history.Event{
		DeployID:   "deploy-1",
		Worker:     "bot",
		Phase:      history.PhaseStart,
		Status:     history.StatusFailed,
		Error:      "worker bot exited within 2s of start",
		Duration:   2 * time.Second,
		OccurredAt: base.Add(time.Second),
	}
	if err := sink.Send(ctx, startEvent); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}

	// Read back, newest first
	events, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to query recent events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Phase != history.PhaseStart || events[1].Phase != history.PhaseStop {
		t.Errorf("Expected newest-first order, got %v then %v", events[0].Phase, events[1].Phase)
	}
	if events[0].Error != startEvent.Error {
		t.Errorf("Expected error %q, got %q", startEvent.Error, events[0].Error)
	}
	if events[1].Error != "" {
		t.Errorf("Expected empty error for ok event, got %q", events[1].Error)
	}
	if events[1].PID != stopEvent.PID {
		t.Errorf("Expected pid %d, got %d", stopEvent.PID, events[1].PID)
	}
	if events[0].Duration != startEvent.Duration {
		t.Errorf("Expected duration %v, got %v", startEvent.Duration, events[0].Duration)
	}
	if events[0].DeployID != "deploy-1" || events[0].Worker != "bot" {
		t.Errorf("Unexpected identity fields: %+v", events[0])
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	// Create in-memory sink
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()

	event := history.Event{
		DeployID:   "deploy-mem",
		Worker:     "bot",
		Phase:      history.PhaseDeploy,
		Status:     history.StatusOK,
		PID:        54321,
		OccurredAt: time.Now().UTC(),
	}

	// Send event
	if err := sink.Send(ctx, event); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	events, err := sink.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to query recent events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
}

func TestSQLiteSink_RecentLimit(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		e := history.Event{
			DeployID:   "deploy-limit",
			Worker:     "bot",
			Phase:      history.PhaseDeploy,
			Status:     history.StatusOK,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send event %d: %v", i, err)
		}
	}

	events, err := sink.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Failed to query recent events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events with limit, got %d", len(events))
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("Expected error for empty DSN, got nil")
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	// Create in-memory sink
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	// Create cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event := history.Event{
		DeployID:   "deploy-cancelled",
		Worker:     "bot",
		Phase:      history.PhaseStop,
		Status:     history.StatusOK,
		OccurredAt: time.Now().UTC(),
	}

	// Send event with cancelled context - should handle gracefully
	err = sink.Send(ctx, event)
	if err != nil {
		t.Logf("Expected error with cancelled context: %v", err)
	}
}
