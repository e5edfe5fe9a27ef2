package bed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bed is the persisted record for one registered bed.
type Bed struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	AutoConnect bool      `json:"auto_connect"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repository defines the interface for bed persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a bed by its unique identifier.
	// Returns ErrNotFound if the bed does not exist.
	GetByID(ctx context.Context, id string) (*Bed, error)

	// GetByAddress retrieves a bed by its MAC address.
	// Returns ErrNotFound if the bed does not exist.
	GetByAddress(ctx context.Context, address string) (*Bed, error)

	// List retrieves all beds ordered by name.
	List(ctx context.Context) ([]Bed, error)

	// ListAutoConnect retrieves the beds flagged for startup connection.
	ListAutoConnect(ctx context.Context) ([]Bed, error)

	// Create inserts a new bed.
	// Returns ErrExists if a bed with the same address already exists.
	Create(ctx context.Context, bed *Bed) error

	// Update modifies an existing bed.
	// Returns ErrNotFound if the bed does not exist.
	Update(ctx context.Context, bed *Bed) error

	// Delete removes a bed by ID.
	// Returns ErrNotFound if the bed does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a bed by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Bed, error) {
	query := `
		SELECT id, address, name, auto_connect, created_at, updated_at
		FROM beds
		WHERE id = ?`

	bed, err := scanBed(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying bed by id: %w", err)
	}
	return bed, nil
}

// GetByAddress retrieves a bed by its MAC address.
func (r *SQLiteRepository) GetByAddress(ctx context.Context, address string) (*Bed, error) {
	normalised, err := NormaliseAddress(address)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, address, name, auto_connect, created_at, updated_at
		FROM beds
		WHERE address = ?`

	bed, err := scanBed(r.db.QueryRowContext(ctx, query, normalised))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying bed by address: %w", err)
	}
	return bed, nil
}

// List retrieves all beds ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Bed, error) {
	query := `
		SELECT id, address, name, auto_connect, created_at, updated_at
		FROM beds
		ORDER BY name`

	return r.queryBeds(ctx, query)
}

// ListAutoConnect retrieves the beds flagged for startup connection.
func (r *SQLiteRepository) ListAutoConnect(ctx context.Context) ([]Bed, error) {
	query := `
		SELECT id, address, name, auto_connect, created_at, updated_at
		FROM beds
		WHERE auto_connect = 1
		ORDER BY name`

	return r.queryBeds(ctx, query)
}

// Create inserts a new bed. The address is normalised and the ID and
// timestamps are filled in when absent.
func (r *SQLiteRepository) Create(ctx context.Context, bed *Bed) error {
	normalised, err := NormaliseAddress(bed.Address)
	if err != nil {
		return err
	}
	if err := ValidateName(bed.Name); err != nil {
		return err
	}
	bed.Address = normalised

	if bed.ID == "" {
		bed.ID = "bed-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	if bed.CreatedAt.IsZero() {
		bed.CreatedAt = now
	}
	bed.UpdatedAt = now

	query := `
		INSERT INTO beds (id, address, name, auto_connect, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		bed.ID,
		bed.Address,
		bed.Name,
		boolToInt(bed.AutoConnect),
		bed.CreatedAt.Format(time.RFC3339),
		bed.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting bed: %w", err)
	}

	return nil
}

// Update modifies an existing bed.
func (r *SQLiteRepository) Update(ctx context.Context, bed *Bed) error {
	normalised, err := NormaliseAddress(bed.Address)
	if err != nil {
		return err
	}
	if err := ValidateName(bed.Name); err != nil {
		return err
	}
	bed.Address = normalised
	bed.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE beds SET
			address = ?, name = ?, auto_connect = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		bed.Address,
		bed.Name,
		boolToInt(bed.AutoConnect),
		bed.UpdatedAt.Format(time.RFC3339),
		bed.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("updating bed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a bed by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM beds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting bed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// queryBeds executes a query and returns a slice of beds.
func (r *SQLiteRepository) queryBeds(ctx context.Context, query string, args ...any) ([]Bed, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying beds: %w", err)
	}
	defer rows.Close()

	var beds []Bed
	for rows.Next() {
		bed, err := scanBed(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bed: %w", err)
		}
		beds = append(beds, *bed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating beds: %w", err)
	}

	return beds, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanBed scans a row or rows result into a Bed.
func scanBed(scanner rowScanner) (*Bed, error) {
	var b Bed
	var autoConnect int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&b.ID,
		&b.Address,
		&b.Name,
		&autoConnect,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.AutoConnect = autoConnect != 0

	var parseErr error
	b.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	b.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &b, nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
