package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/redeployr/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Start PostgreSQL container
	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	// Get connection string
	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Create sink
	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	base := time.Now().Add(-time.Minute).UTC()

	// Send a full deploy sequence
	events := []history.Event{
		{DeployID: "deploy-pg", Worker: "bot", Phase: history.PhaseStop, Status: history.StatusOK, PID: 12345, Duration: 100 * time.Millisecond, OccurredAt: base},
		{DeployID: "deploy-pg", Worker: "bot", Phase: history.PhaseUpdate, Status: history.StatusSkipped, OccurredAt: base.Add(time.Second)},
		{DeployID: "deploy-pg", Worker: "bot", Phase: history.PhaseStart, Status: history.StatusOK, PID: 12399, Duration: 2 * time.Second, OccurredAt: base.Add(2 * time.Second)},
	}
	for i, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send event %d: %v", i, err)
		}
	}

	// Verify events were stored
	rows, err := sink.db.QueryContext(ctx, "SELECT COUNT(*) FROM deploy_history WHERE deploy_id = $1", "deploy-pg")
	if err != nil {
		t.Fatalf("Failed to query deploy_history: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			t.Fatalf("Failed to scan count: %v", err)
		}
	}
	if count != 3 {
		t.Errorf("Expected 3 events in history, got %d", count)
	}

	// Read back through Recent
	recent, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to query recent events: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 recent events, got %d", len(recent))
	}
	if recent[0].Phase != history.PhaseStart {
		t.Errorf("Expected newest event first, got %v", recent[0].Phase)
	}
	if recent[1].Status != history.StatusSkipped {
		t.Errorf("Expected skipped update phase, got %v", recent[1].Status)
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("Expected error for empty DSN, got nil")
	}
}
