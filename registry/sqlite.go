package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	x402 "github.com/Zyzgsfi/agentpay"

	_ "modernc.org/sqlite"
)

const agentTable = "registry_agents"

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens dsn with the pure-Go sqlite driver and prepares the schema.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSQLiteSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func ensureSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			services_json TEXT NOT NULL,
			address TEXT NOT NULL,
			endpoint TEXT NOT NULL DEFAULT '',
			reputation INTEGER NOT NULL,
			registered_at INTEGER NOT NULL,
			last_seen INTEGER NOT NULL
		);`, agentTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, record AgentRecord) error {
	services, err := json.Marshal(record.Services)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, name, services_json, address, endpoint, reputation, registered_at, last_seen) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", agentTable),
		record.ID, record.Name, string(services), record.Address, record.Endpoint, record.Reputation,
		record.RegisteredAt.UTC().UnixMilli(), record.LastSeen.UTC().UnixMilli())
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, selectAgents+" WHERE id = ?", id)
	return scanAgent(row, id)
}

// Update implements Store. fn runs inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn UpdateFunc) (AgentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AgentRecord{}, err
	}

	record, err := scanAgent(tx.QueryRowContext(ctx, selectAgents+" WHERE id = ?", id), id)
	if err != nil {
		_ = tx.Rollback()
		return AgentRecord{}, err
	}
	if err := fn(&record); err != nil {
		_ = tx.Rollback()
		return AgentRecord{}, err
	}
	record.ID = id

	services, err := json.Marshal(record.Services)
	if err != nil {
		_ = tx.Rollback()
		return AgentRecord{}, err
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET name = ?, services_json = ?, address = ?, endpoint = ?, reputation = ?, last_seen = ? WHERE id = ?", agentTable),
		record.Name, string(services), record.Address, record.Endpoint, record.Reputation, record.LastSeen.UTC().UnixMilli(), id)
	if err != nil {
		_ = tx.Rollback()
		return AgentRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return AgentRecord{}, err
	}
	return record, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAgents+" ORDER BY seq ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentRecord
	for rows.Next() {
		record, err := scanAgent(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

var selectAgents = fmt.Sprintf("SELECT id, name, services_json, address, endpoint, reputation, registered_at, last_seen FROM %s", agentTable)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner, id string) (AgentRecord, error) {
	var (
		record       AgentRecord
		services     string
		registeredAt int64
		lastSeen     int64
	)
	if err := row.Scan(&record.ID, &record.Name, &services, &record.Address, &record.Endpoint, &record.Reputation, &registeredAt, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentRecord{}, fmt.Errorf("%w: %s", x402.ErrAgentNotFound, id)
		}
		return AgentRecord{}, err
	}
	if err := json.Unmarshal([]byte(services), &record.Services); err != nil {
		return AgentRecord{}, fmt.Errorf("decode services of %s: %w", record.ID, err)
	}
	record.RegisteredAt = time.UnixMilli(registeredAt).UTC()
	record.LastSeen = time.UnixMilli(lastSeen).UTC()
	return record, nil
}
