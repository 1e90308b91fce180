package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 100 * time.Millisecond
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the DSN are applied to every pooled connection.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS interventions (
		intervention_id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		user_message TEXT,
		artifact_json TEXT,
		raw_output TEXT,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interventions_user ON interventions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_interventions_created ON interventions(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveIntervention appends an attempted intervention. Saving the same
// intervention ID twice keeps the first row.
func (s *SQLiteStore) SaveIntervention(ctx context.Context, res domain.Result) error {
	if res.InterventionID == "" {
		return fmt.Errorf("save intervention: missing intervention id")
	}

	var artifactJSON any
	if res.Artifact != nil {
		raw, err := json.Marshal(res.Artifact)
		if err != nil {
			return fmt.Errorf("marshal artifact: %w", err)
		}
		artifactJSON = string(raw)
	}

	query := `
	INSERT INTO interventions (
		intervention_id, event_id, user_id, topic, action, reason,
		user_message, artifact_json, raw_output, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(intervention_id) DO NOTHING`

	return shared.RetryOnConflict(ctx, "save intervention", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			res.InterventionID, res.EventID, res.UserID, res.Topic,
			string(res.Action), string(res.Reason),
			nullString(res.UserMessage), artifactJSON,
			nullString(res.RawOutput), nullString(res.Error),
			res.Timestamp.UnixMilli(),
		)
		return err
	})
}

// ListInterventions returns a learner's interventions, newest first.
func (s *SQLiteStore) ListInterventions(ctx context.Context, userID string, limit int) ([]Intervention, error) {
	query := `
		SELECT intervention_id, event_id, user_id, topic, action, reason,
		       user_message, artifact_json, raw_output, error, created_at
		FROM interventions WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query interventions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close interventions rows", "error", closeErr)
		}
	}()

	var out []Intervention
	for rows.Next() {
		var (
			iv                                   Intervention
			action, reason                       string
			message, artifactJSON, raw, errorMsg sql.NullString
			createdAt                            int64
		)
		if err := rows.Scan(
			&iv.ID, &iv.EventID, &iv.UserID, &iv.Topic, &action, &reason,
			&message, &artifactJSON, &raw, &errorMsg, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan intervention row: %w", err)
		}

		iv.Action = domain.Action(action)
		iv.Reason = domain.Reason(reason)
		iv.Message = message.String
		iv.RawOutput = raw.String
		iv.Error = errorMsg.String
		iv.CreatedAt = time.UnixMilli(createdAt)
		if artifactJSON.Valid {
			var a domain.Artifact
			if err := json.Unmarshal([]byte(artifactJSON.String), &a); err != nil {
				slog.Warn("failed to decode stored artifact", "intervention_id", iv.ID, "error", err)
			} else {
				iv.Artifact = &a
			}
		}
		out = append(out, iv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interventions: %w", err)
	}
	return out, nil
}

// DeleteUserInterventions removes a learner's log entries.
func (s *SQLiteStore) DeleteUserInterventions(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := shared.RetryOnConflict(ctx, "delete interventions", writeRetries, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM interventions WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

// CountInterventions counts log entries by action.
func (s *SQLiteStore) CountInterventions(ctx context.Context) (map[domain.Action]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM interventions GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("count interventions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close count rows", "error", closeErr)
		}
	}()

	counts := make(map[domain.Action]int64)
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[domain.Action(action)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// CleanupOlderThan removes entries older than ttl.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM interventions WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup interventions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
