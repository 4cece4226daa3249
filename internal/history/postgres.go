package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps history in a table named after the index. Extra
// summary fields are stored as JSONB.
type PostgresStore struct {
	DB    *pgxpool.Pool
	table string
	limit int
}

// NewPostgresStore opens a connection pool for connStr.
func NewPostgresStore(ctx context.Context, connStr, index string, limit int) (*PostgresStore, error) {
	if index == "" {
		index = DefaultIndex
	}
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresStore{
		DB:    db,
		table: pgx.Identifier{index}.Sanitize(),
		limit: replayLimit(limit),
	}, nil
}

func (ps *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := ps.DB.Exec(ctx, schemaFor(ps.table)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func schemaFor(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id BIGSERIAL PRIMARY KEY,
    room TEXT NOT NULL,
    answer TEXT NOT NULL,
    date TIMESTAMPTZ NOT NULL,
    fields JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (room, date, id);
`, table, pgx.Identifier{"room_date_idx"}.Sanitize())
}

func (ps *PostgresStore) Append(ctx context.Context, rec Record) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return persistenceError(err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (room, answer, date, fields) VALUES ($1, $2, $3, $4::jsonb)`, ps.table)
	if _, err := ps.DB.Exec(ctx, query, rec.Room, rec.Answer, rec.Date, fields); err != nil {
		return persistenceError(err)
	}
	return nil
}

func (ps *PostgresStore) ReplayAll(ctx context.Context, room string) ([]Record, error) {
	query := fmt.Sprintf(`
        SELECT room, answer, date, fields::text
        FROM %s
        WHERE room = $1
        ORDER BY date ASC, id ASC
        LIMIT $2`, ps.table)
	rows, err := ps.DB.Query(ctx, query, room, ps.limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var fields string
		if err := rows.Scan(&rec.Room, &rec.Answer, &rec.Date, &fields); err != nil {
			return nil, err
		}
		if rec.Fields, err = decodeFields(fields); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the underlying Postgres connection pool.
func (ps *PostgresStore) Close(context.Context) error {
	ps.DB.Close()
	return nil
}

func encodeFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeFields(raw string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
