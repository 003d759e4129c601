package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nmoretto/shipdeck/internal/auth"
	"github.com/nmoretto/shipdeck/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, kind, status, input_ref, input_name, output_ref, options,
		        units_done, units_total, outcomes_json,
		        input_tokens, output_tokens, cost_usd,
		        error, created_at, completed_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Record, 0)
	for rows.Next() {
		var item jobs.Record
		var kind, status, outcomesJSON string
		var completedAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&kind,
			&status,
			&item.InputRef,
			&item.InputName,
			&item.OutputRef,
			&item.Options,
			&item.UnitsDone,
			&item.UnitsTotal,
			&outcomesJSON,
			&item.Usage.InputTokens,
			&item.Usage.OutputTokens,
			&item.Usage.CostUSD,
			&item.Error,
			&item.CreatedAt,
			&completedAt,
		); err != nil {
			return nil, err
		}
		item.Kind = jobs.Kind(kind)
		item.Status = jobs.Status(status)
		if outcomesJSON != "" {
			if err := json.Unmarshal([]byte(outcomesJSON), &item.Outcomes); err != nil {
				return nil, fmt.Errorf("decode outcomes for job %s: %w", item.ID, err)
			}
		}
		if completedAt.Valid {
			t := completedAt.Time
			item.CompletedAt = &t
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, rec *jobs.Record) error {
	if rec == nil {
		return fmt.Errorf("job is nil")
	}
	outcomesJSON, err := json.Marshal(rec.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes for job %s: %w", rec.ID, err)
	}
	var completedAt interface{}
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, kind, status, input_ref, input_name, output_ref, options,
			units_done, units_total, outcomes_json,
			input_tokens, output_tokens, cost_usd,
			error, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind,
			status=excluded.status,
			input_ref=excluded.input_ref,
			input_name=excluded.input_name,
			output_ref=excluded.output_ref,
			options=excluded.options,
			units_done=excluded.units_done,
			units_total=excluded.units_total,
			outcomes_json=excluded.outcomes_json,
			input_tokens=excluded.input_tokens,
			output_tokens=excluded.output_tokens,
			cost_usd=excluded.cost_usd,
			error=excluded.error,
			completed_at=excluded.completed_at`,
		rec.ID,
		string(rec.Kind),
		string(rec.Status),
		rec.InputRef,
		rec.InputName,
		rec.OutputRef,
		rec.Options,
		rec.UnitsDone,
		rec.UnitsTotal,
		string(outcomesJSON),
		rec.Usage.InputTokens,
		rec.Usage.OutputTokens,
		rec.Usage.CostUSD,
		rec.Error,
		rec.CreatedAt.UTC(),
		completedAt,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) PutSession(ctx context.Context, sess auth.Session) error {
	createdAt := sess.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (token, created_at, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET
			expires_at=excluded.expires_at`,
		sess.Token,
		createdAt,
		sess.ExpiresAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, token string, now time.Time) (auth.Session, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT token, created_at, expires_at
		 FROM sessions
		 WHERE token = ? AND expires_at > ?`,
		token,
		now.UTC(),
	)
	var ret auth.Session
	if err := row.Scan(&ret.Token, &ret.CreatedAt, &ret.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return auth.Session{}, false, nil
		}
		return auth.Session{}, false, err
	}
	return ret, true, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// DeleteExpiredSessions removes sessions whose expires_at is before now.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("setting key is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO settings (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at`,
		key,
		value,
		time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		ret[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
