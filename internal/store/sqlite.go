package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ai-voice-command-service/internal/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS artifacts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversationId TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT,
		createdAt INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS artifacts_conversation ON artifacts(conversationId, seq);

	CREATE TABLE IF NOT EXISTS automations (
		id TEXT PRIMARY KEY,
		conversationId TEXT NOT NULL,
		intentKind TEXT NOT NULL,
		parameters TEXT NOT NULL,
		status TEXT NOT NULL,
		confidence REAL,
		triggerText TEXT NOT NULL,
		sourceChunkId TEXT NOT NULL,
		createdAt INTEGER NOT NULL,
		updatedAt INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS automations_open
		ON automations(conversationId, intentKind)
		WHERE status NOT IN ('rejected', 'failed', 'dismissed');
`

const automationColumns = `id, conversationId, intentKind, parameters, status, confidence,
	triggerText, sourceChunkId, createdAt, updatedAt`

// SQLite is a Store backed by an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at dsn. Use ":memory:" for
// an ephemeral store.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) PersistArtifact(ctx context.Context, a models.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	switch a.Kind {
	case models.ArtifactChart:
		if a.Chart == nil {
			return fmt.Errorf("persist chart: missing payload")
		}
		payload, err := json.Marshal(a.Chart)
		if err != nil {
			return fmt.Errorf("encode chart: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (id, conversationId, kind, payload, createdAt) VALUES (?, ?, ?, ?, ?)`,
			a.Chart.ID, a.Chart.ConversationID, string(a.Kind), string(payload), a.Chart.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert chart: %w", err)
		}

	case models.ArtifactAutomation:
		rec := a.Automation
		if rec == nil {
			return fmt.Errorf("persist automation: missing payload")
		}
		params, err := json.Marshal(rec.Parameters)
		if err != nil {
			return fmt.Errorf("encode parameters: %w", err)
		}
		var confidence sql.NullFloat64
		if rec.Confidence != nil {
			confidence = sql.NullFloat64{Float64: *rec.Confidence, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO automations (`+automationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.ConversationID, rec.IntentKind, string(params), string(rec.Status), confidence,
			rec.TriggerText, rec.SourceChunkID, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano()); err != nil {
			if isUniqueViolation(err) {
				return ErrOpenAutomationExists
			}
			return fmt.Errorf("insert automation: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (id, conversationId, kind, createdAt) VALUES (?, ?, ?, ?)`,
			rec.ID, rec.ConversationID, string(a.Kind), rec.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}

	default:
		return fmt.Errorf("persist artifact: unknown kind %q", a.Kind)
	}

	return tx.Commit()
}

func (s *SQLite) QueryOpenAutomation(ctx context.Context, conversationID, intentKind string) (*models.AutomationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+automationColumns+`
		FROM automations
		WHERE conversationId = ? AND intentKind = ?
			AND status NOT IN ('rejected', 'failed', 'dismissed')
		LIMIT 1
	`, conversationID, intentKind)

	rec, err := scanAutomation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLite) GetAutomation(ctx context.Context, id string) (*models.AutomationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = ?`, id)
	rec, err := scanAutomation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLite) ListArtifacts(ctx context.Context, conversationID string) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload
		FROM artifacts
		WHERE conversationId = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}

	type entry struct {
		id      string
		kind    models.ArtifactKind
		payload sql.NullString
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var kind string
		if err := rows.Scan(&e.id, &kind, &e.payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		e.kind = models.ArtifactKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the single connection before the per-record lookups.
	rows.Close()

	out := make([]models.Artifact, 0, len(entries))
	for _, e := range entries {
		switch e.kind {
		case models.ArtifactChart:
			var c models.ChartArtifact
			if err := json.Unmarshal([]byte(e.payload.String), &c); err != nil {
				return nil, fmt.Errorf("decode chart %s: %w", e.id, err)
			}
			out = append(out, models.Artifact{Kind: e.kind, Chart: &c})
		case models.ArtifactAutomation:
			rec, err := s.GetAutomation(ctx, e.id)
			if err != nil {
				return nil, fmt.Errorf("load automation %s: %w", e.id, err)
			}
			out = append(out, models.Artifact{Kind: e.kind, Automation: rec})
		}
	}
	return out, nil
}

func (s *SQLite) UpdateAutomationStatus(ctx context.Context, id string, status models.AutomationStatus, now time.Time) (*models.AutomationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanAutomation(tx.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !rec.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, rec.Status, status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE automations SET status = ?, updatedAt = ? WHERE id = ?`,
		string(status), now.UnixNano(), id); err != nil {
		return nil, fmt.Errorf("update automation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	rec.Status = status
	rec.UpdatedAt = time.Unix(0, now.UnixNano()).UTC()
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*models.AutomationRecord, error) {
	var (
		rec                  models.AutomationRecord
		params, status       string
		confidence           sql.NullFloat64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.ConversationID, &rec.IntentKind, &params, &status, &confidence,
		&rec.TriggerText, &rec.SourceChunkID, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan automation: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	rec.Status = models.AutomationStatus(status)
	if confidence.Valid {
		c := confidence.Float64
		rec.Confidence = &c
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLite)(nil)
