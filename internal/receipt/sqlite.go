package receipt

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    subtotal TEXT NOT NULL,
    vat_percentage TEXT NOT NULL,
    service_percentage TEXT NOT NULL,
    total TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    filename TEXT NOT NULL DEFAULT '',
    content_type TEXT NOT NULL DEFAULT '',
    total_confidence REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    boxes TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS people (
    id TEXT PRIMARY KEY,
    receipt_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    FOREIGN KEY (receipt_id) REFERENCES receipts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    receipt_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    unit_price TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    uncertain INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (receipt_id) REFERENCES receipts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS unit_assignments (
    item_id TEXT NOT NULL,
    unit_index INTEGER NOT NULL,
    position INTEGER NOT NULL,
    person_id TEXT NOT NULL,
    PRIMARY KEY (item_id, unit_index, person_id),
    FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_people_receipt_id ON people(receipt_id);
CREATE INDEX IF NOT EXISTS idx_items_receipt_id ON items(receipt_id);
CREATE INDEX IF NOT EXISTS idx_unit_assignments_item_id ON unit_assignments(item_id);
`

// SQLiteDB implements the DB interface using SQLite. Unit assignments are
// stored as one row per (item, unit, person).
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database at path, creating parent directories and
// the schema as needed.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// SaveReceipt replaces the receipt and all of its rows in one transaction
func (s *SQLiteDB) SaveReceipt(r *Receipt) error {
	boxes, err := json.Marshal(r.Boxes)
	if err != nil {
		return fmt.Errorf("marshaling boxes: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM receipts WHERE id = ?", r.ID); err != nil {
		return fmt.Errorf("deleting previous receipt: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO receipts (id, subtotal, vat_percentage, service_percentage, total, timestamp,
		filename, content_type, total_confidence, confidence, boxes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Subtotal, r.VATPercentage, r.ServicePercentage, r.Total, r.Timestamp.UnixNano(),
		r.Filename, r.ContentType, r.TotalConfidence, r.Confidence, string(boxes),
		r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}

	for i, p := range r.People {
		if _, err := tx.Exec("INSERT INTO people (id, receipt_id, position, name) VALUES (?, ?, ?, ?)",
			p.ID, r.ID, i, p.Name); err != nil {
			return fmt.Errorf("inserting person: %w", err)
		}
	}

	for i, item := range r.Items {
		if _, err := tx.Exec(`INSERT INTO items (id, receipt_id, position, name, unit_price, quantity, uncertain)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, r.ID, i, item.Name, item.UnitPrice, item.Quantity, item.Uncertain); err != nil {
			return fmt.Errorf("inserting item: %w", err)
		}
		for unit, people := range item.UnitAssignments {
			for pos, personID := range people {
				if _, err := tx.Exec("INSERT INTO unit_assignments (item_id, unit_index, position, person_id) VALUES (?, ?, ?, ?)",
					item.ID, unit, pos, personID); err != nil {
					return fmt.Errorf("inserting unit assignment: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetReceipt retrieves a receipt by ID, including items, people and assignments
func (s *SQLiteDB) GetReceipt(id string) (*Receipt, error) {
	r := &Receipt{ID: id}
	var timestamp, created, updated int64
	var boxes string
	err := s.db.QueryRow(`SELECT subtotal, vat_percentage, service_percentage, total, timestamp,
		filename, content_type, total_confidence, confidence, boxes, created_at, updated_at
		FROM receipts WHERE id = ?`, id,
	).Scan(&r.Subtotal, &r.VATPercentage, &r.ServicePercentage, &r.Total, &timestamp,
		&r.Filename, &r.ContentType, &r.TotalConfidence, &r.Confidence, &boxes, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	r.Timestamp = time.Unix(0, timestamp).UTC()
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal([]byte(boxes), &r.Boxes); err != nil {
		return nil, fmt.Errorf("unmarshaling boxes: %w", err)
	}

	if r.People, err = s.people(id); err != nil {
		return nil, err
	}
	if r.Items, err = s.items(id); err != nil {
		return nil, err
	}
	normalize(r)
	return r, nil
}

func (s *SQLiteDB) people(receiptID string) ([]Person, error) {
	rows, err := s.db.Query("SELECT id, name FROM people WHERE receipt_id = ? ORDER BY position", receiptID)
	if err != nil {
		return nil, fmt.Errorf("getting people: %w", err)
	}
	defer rows.Close()

	people := []Person{}
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scanning person: %w", err)
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating people: %w", err)
	}
	return people, nil
}

func (s *SQLiteDB) items(receiptID string) ([]Item, error) {
	rows, err := s.db.Query(`SELECT id, name, unit_price, quantity, uncertain FROM items
		WHERE receipt_id = ? ORDER BY position`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("getting items: %w", err)
	}

	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Name, &item.UnitPrice, &item.Quantity, &item.Uncertain); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		item.EnsureUnitAssignmentsCount()
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}

	// the item rows are closed first because the pool has a single connection
	for i := range items {
		if err := s.loadAssignments(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *SQLiteDB) loadAssignments(item *Item) error {
	rows, err := s.db.Query(`SELECT unit_index, person_id FROM unit_assignments
		WHERE item_id = ? ORDER BY unit_index, position`, item.ID)
	if err != nil {
		return fmt.Errorf("getting unit assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var unit int
		var personID string
		if err := rows.Scan(&unit, &personID); err != nil {
			return fmt.Errorf("scanning unit assignment: %w", err)
		}
		if unit >= 0 && unit < len(item.UnitAssignments) {
			item.UnitAssignments[unit] = append(item.UnitAssignments[unit], personID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating unit assignments: %w", err)
	}
	return nil
}

// ListReceipts returns all receipts
func (s *SQLiteDB) ListReceipts() ([]*Receipt, error) {
	rows, err := s.db.Query("SELECT id FROM receipts")
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning receipt id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}

	receipts := make([]*Receipt, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetReceipt(id)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and, by cascade, its rows
func (s *SQLiteDB) DeleteReceipt(id string) error {
	res, err := s.db.Exec("DELETE FROM receipts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
