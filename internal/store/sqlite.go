package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the embedded-database driver for the persistence log.
type SQLite struct {
	db  *sql.DB
	log *logger.Logger
}

// OpenSQLite creates or opens colorcodely.db in dataDir with WAL mode and
// runs pending migrations.
func OpenSQLite(dataDir string, log *logger.Logger) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "colorcodely.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, log: log.Component("store.sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	s.log.WithField("path", dbPath).Info("database opened")
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}
		s.log.WithField("version", version).Info("applied migration")
	}
	return nil
}

func (s *SQLite) AppendTranscription(ctx context.Context, center types.TestingCenter, rec types.TranscriptionRecord) error {
	if center.LogName == "" {
		return fmt.Errorf("%w: center %s has no log name", ErrUnknownLog, center.ID)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO transcriptions
		(id, log_name, center_id, date, time, call_sid, recording_sid, recording_duration, colors, confidence, transcription)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, center.LogName, rec.CenterID, rec.Date, rec.Time, rec.CallID, rec.RecordingID,
		rec.Duration, joinColors(rec.Colors), string(rec.Confidence), rec.Text,
	)
	if err != nil {
		return fmt.Errorf("inserting transcription: %w", err)
	}
	return nil
}

func (s *SQLite) AlreadySentToday(ctx context.Context, center types.TestingCenter, date string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcriptions WHERE log_name = ? AND center_id = ? AND date = ?`,
		center.LogName, center.ID, date,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting transcriptions: %w", err)
	}
	return count > 0, nil
}

const selectTranscription = `SELECT id, center_id, date, time, call_sid, recording_sid,
	recording_duration, colors, confidence, transcription FROM transcriptions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscription(row rowScanner) (types.TranscriptionRecord, error) {
	var (
		rec    types.TranscriptionRecord
		colors string
		conf   string
	)
	err := row.Scan(&rec.ID, &rec.CenterID, &rec.Date, &rec.Time, &rec.CallID, &rec.RecordingID,
		&rec.Duration, &colors, &conf, &rec.Text)
	if err != nil {
		return rec, err
	}
	rec.Colors = splitColors(colors)
	rec.Confidence = types.Confidence(conf)
	return rec, nil
}

func (s *SQLite) Latest(ctx context.Context, center types.TestingCenter) (*types.TranscriptionRecord, error) {
	rec, err := scanTranscription(s.db.QueryRowContext(ctx,
		selectTranscription+` WHERE log_name = ? AND center_id = ? ORDER BY rowid DESC LIMIT 1`,
		center.LogName, center.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest transcription: %w", err)
	}
	return &rec, nil
}

// History reads the newest limit rows and returns them oldest first.
func (s *SQLite) History(ctx context.Context, center types.TestingCenter, limit int) ([]types.TranscriptionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, center_id, date, time, call_sid, recording_sid,
		recording_duration, colors, confidence, transcription FROM (
			SELECT rowid AS seq, * FROM transcriptions
			WHERE log_name = ? AND center_id = ?
			ORDER BY rowid DESC LIMIT ?
		) ORDER BY seq`,
		center.LogName, center.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transcription history: %w", err)
	}
	defer rows.Close()

	var out []types.TranscriptionRecord
	for rows.Next() {
		rec, err := scanTranscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transcription: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcriptions: %w", err)
	}
	return out, nil
}

func (s *SQLite) Subscribers(ctx context.Context, center types.TestingCenter) ([]types.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT full_name, email, phone, testing_center, active
		FROM subscribers
		WHERE testing_center = ? COLLATE NOCASE OR (? <> '' AND testing_center = ? COLLATE NOCASE)
		ORDER BY id`, center.ID, center.Name, center.Name)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	var out []types.Subscriber
	for rows.Next() {
		var sub types.Subscriber
		if err := rows.Scan(&sub.FullName, &sub.Email, &sub.Phone, &sub.CenterID, &sub.Active); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscribers: %w", err)
	}
	return out, nil
}
