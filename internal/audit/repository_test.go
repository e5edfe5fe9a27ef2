package audit

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the audit_logs table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			address TEXT NOT NULL,
			command TEXT NOT NULL,
			source TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			details TEXT
		) STRICT;
		CREATE INDEX idx_audit_logs_timestamp ON audit_logs(timestamp);
		CREATE INDEX idx_audit_logs_address ON audit_logs(address);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testEntry(address, command, source string, success bool) *Entry {
	return &Entry{
		Address: address,
		Command: command,
		Source:  source,
		Success: success,
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	entry := testEntry("AA:BB:CC:DD:EE:FF", "head_up", "api", true)
	entry.Details = map[string]any{"hold": true}

	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if entry.ID == "" {
		t.Error("ID not generated")
	}
	if entry.Timestamp.IsZero() {
		t.Error("Timestamp not generated")
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}
	got := result.Entries[0]
	if got.Command != "head_up" || got.Source != "api" || !got.Success {
		t.Errorf("entry = %+v", got)
	}
	if hold, ok := got.Details["hold"].(bool); !ok || !hold {
		t.Errorf("Details = %v, want hold=true", got.Details)
	}
}

func TestSQLiteRepository_List_Filtering(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{Address: "AA:BB:CC:DD:EE:01", Command: "head_up", Source: "api", Success: true, Timestamp: base},
		{Address: "AA:BB:CC:DD:EE:01", Command: "stop", Source: "mqtt", Success: true, Timestamp: base.Add(time.Second)},
		{Address: "AA:BB:CC:DD:EE:02", Command: "flat", Source: "api", Success: false, Error: "bed: write failed", Timestamp: base.Add(2 * time.Second)},
	}
	for _, entry := range entries {
		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	t.Run("by address", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Address: "aa:bb:cc:dd:ee:01"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
	})

	t.Run("by command", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Command: "flat"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Fatalf("Total = %d, want 1", result.Total)
		}
		if result.Entries[0].Error != "bed: write failed" {
			t.Errorf("Error = %q", result.Entries[0].Error)
		}
	})

	t.Run("by source", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Source: "mqtt"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Errorf("Total = %d, want 1", result.Total)
		}
	})

	t.Run("most recent first", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result.Entries) != 3 {
			t.Fatalf("got %d entries", len(result.Entries))
		}
		if result.Entries[0].Command != "flat" {
			t.Errorf("first entry = %q, want most recent (flat)", result.Entries[0].Command)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 3 {
			t.Errorf("Total = %d, want 3", result.Total)
		}
		if len(result.Entries) != 1 {
			t.Errorf("page size = %d, want 1", len(result.Entries))
		}
	})

	t.Run("empty result is not nil", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Command: "levitate"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Entries == nil {
			t.Error("Entries = nil, want empty slice")
		}
	})
}

func TestSQLiteRepository_List_ClampsLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	result, err := repo.List(context.Background(), Filter{Limit: 9999, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != 200 {
		t.Errorf("Limit = %d, want 200", result.Limit)
	}
	if result.Offset != 0 {
		t.Errorf("Offset = %d, want 0", result.Offset)
	}
}

// =============================================================================
// Recorder
// =============================================================================

// captureRepo records Create calls in memory.
type captureRepo struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *captureRepo) Create(ctx context.Context, entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, *entry)
	return nil
}

func (c *captureRepo) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

func (c *captureRepo) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestRecorder(t *testing.T) {
	repo := &captureRepo{}
	recorder := NewRecorder(repo)

	for i := 0; i < 5; i++ {
		recorder.Record(Entry{Address: "AA:BB:CC:DD:EE:FF", Command: "stop", Source: "api", Success: true})
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}

	if got := repo.count(); got != 5 {
		t.Errorf("recorded %d entries, want 5", got)
	}
}

// failingRepo rejects every Create call.
type failingRepo struct{}

func (failingRepo) Create(ctx context.Context, entry *Entry) error {
	return errors.New("disk full")
}

func (failingRepo) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

func TestRecorder_CloseReturnsWriteError(t *testing.T) {
	recorder := NewRecorder(failingRepo{})
	recorder.Record(Entry{Address: "AA:BB:CC:DD:EE:FF", Command: "flat", Source: "api"})

	err := recorder.Close()
	if err == nil {
		t.Fatal("Close() = nil, want write error after failed insert")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Close() = %v, want the repository error", err)
	}
}

func TestRecorder_CloseIdempotent(t *testing.T) {
	recorder := NewRecorder(&captureRepo{})
	recorder.Close()
	recorder.Close()

	// Recording after close must not panic or block.
	recorder.Record(Entry{Command: "stop"})
}
