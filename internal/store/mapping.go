package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/nimesh/internal/action"
)

// Mapping binds a blink count to an action.
type Mapping struct {
	ID         string
	BlinkCount int
	Action     action.ID
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the blink count and the action.
func (m *Mapping) Validate() error {
	if m.BlinkCount < 1 {
		return fmt.Errorf("blink count must be at least 1, got %d", m.BlinkCount)
	}
	if !m.Action.Valid() {
		return fmt.Errorf("%q: %w", m.Action, action.ErrUnknownAction)
	}
	return nil
}

// MappingRepository provides CRUD operations for action mappings.
type MappingRepository struct {
	db *sql.DB
}

// Mappings returns the mapping repository for this store.
func (s *Store) Mappings() *MappingRepository {
	return &MappingRepository{db: s.db}
}

const mappingColumns = `id, blink_count, action, enabled, created_at, updated_at`

func scanMapping(row interface{ Scan(...any) error }) (*Mapping, error) {
	m := &Mapping{}
	var id string
	var enabled int
	if err := row.Scan(&m.ID, &m.BlinkCount, &id, &enabled, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Action = action.ID(id)
	m.Enabled = enabled != 0
	return m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Create inserts a new mapping. An empty ID is filled with a new UUID.
// Returns ErrDuplicate if the blink count is already mapped.
func (r *MappingRepository) Create(m *Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt

	_, err := r.db.Exec(
		`INSERT INTO action_mappings (`+mappingColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.BlinkCount, string(m.Action), boolInt(m.Enabled), m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("mapping for %d blinks: %w", m.BlinkCount, ErrDuplicate)
	}
	return err
}

// GetByID retrieves a mapping by its ID.
func (r *MappingRepository) GetByID(id string) (*Mapping, error) {
	m, err := scanMapping(r.db.QueryRow(
		`SELECT `+mappingColumns+` FROM action_mappings WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetByBlinkCount retrieves the mapping for a blink count.
func (r *MappingRepository) GetByBlinkCount(count int) (*Mapping, error) {
	m, err := scanMapping(r.db.QueryRow(
		`SELECT `+mappingColumns+` FROM action_mappings WHERE blink_count = ?`, count,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// List retrieves all mappings ordered by blink count.
func (r *MappingRepository) List() ([]*Mapping, error) {
	rows, err := r.db.Query(`SELECT ` + mappingColumns + ` FROM action_mappings ORDER BY blink_count`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return mappings, nil
}

// Update replaces the blink count, action and enabled flag of a mapping.
func (r *MappingRepository) Update(m *Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE action_mappings SET blink_count = ?, action = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		m.BlinkCount, string(m.Action), boolInt(m.Enabled), m.UpdatedAt, m.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("mapping for %d blinks: %w", m.BlinkCount, ErrDuplicate)
	}
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a mapping by its ID.
func (r *MappingRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM action_mappings WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// LoadMapping returns the enabled mappings as a dispatch table.
func (r *MappingRepository) LoadMapping() (action.Mapping, error) {
	mappings, err := r.List()
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}

	table := action.Mapping{}
	for _, m := range mappings {
		if m.Enabled {
			table[m.BlinkCount] = m.Action
		}
	}
	return table, nil
}

// Seed inserts the given table when no mappings exist yet and reports how
// many rows were added.
func (r *MappingRepository) Seed(table action.Mapping) (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM action_mappings`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	for _, blinks := range table.Counts() {
		if err := r.Create(&Mapping{BlinkCount: blinks, Action: table[blinks], Enabled: true}); err != nil {
			return 0, fmt.Errorf("seed %d blinks: %w", blinks, err)
		}
	}
	return len(table), nil
}
