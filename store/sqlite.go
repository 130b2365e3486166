package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nordby/teamline/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			parent_run_id TEXT,
			agent_name TEXT NOT NULL,
			input_text TEXT,
			final_content TEXT,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			run_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_session ON run_events(session_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	var metadata sql.NullString
	if session.Metadata != nil {
		metadata = sql.NullString{String: string(session.Metadata), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?)`,
		session.SessionID, session.UserID, session.CreatedAt, session.UpdatedAt, metadata)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, updated_at, metadata FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.UserID, &session.CreatedAt, &session.UpdatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if metadata.Valid {
		session.Metadata = json.RawMessage(metadata.String)
	}
	return &session, nil
}

// GetOrCreateSession gets an existing session or creates a new one.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	now := time.Now()
	session = &domain.Session{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions lists sessions for a user, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	query := `SELECT session_id, user_id, created_at, updated_at, metadata FROM sessions`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var session domain.Session
		var metadata sql.NullString
		if err := rows.Scan(&session.SessionID, &session.UserID, &session.CreatedAt, &session.UpdatedAt, &metadata); err != nil {
			return nil, err
		}
		if metadata.Valid {
			session.Metadata = json.RawMessage(metadata.String)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	var parentRunID sql.NullString
	if run.ParentRunID != "" {
		parentRunID = sql.NullString{String: run.ParentRunID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_id, parent_run_id, agent_name, input_text, final_content, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SessionID, parentRunID, run.AgentName, run.InputText, run.FinalContent, run.Status, run.StartedAt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		time.Now(), run.SessionID)
	return err
}

// GetRun retrieves a run by ID, without its event log.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, session_id, parent_run_id, agent_name, input_text, final_content, status, started_at, completed_at FROM runs WHERE run_id = ?`,
		runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var parentRunID, inputText, finalContent sql.NullString
	var completedAt sql.NullInt64
	err := row.Scan(&run.RunID, &run.SessionID, &parentRunID, &run.AgentName, &inputText, &finalContent, &run.Status, &run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if parentRunID.Valid {
		run.ParentRunID = parentRunID.String
	}
	if inputText.Valid {
		run.InputText = inputText.String
	}
	if finalContent.Valid {
		run.FinalContent = finalContent.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Int64
	}
	return &run, nil
}

// UpdateRunStatus updates the status of a run.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE run_id = ?`,
		status, runID)
	return err
}

// CompleteRun moves a run to a terminal state, recording its final content
// and completion time (Unix seconds).
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status domain.RunStatus, finalContent string, completedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, final_content = ?, completed_at = ? WHERE run_id = ?`,
		status, finalContent, completedAt, runID)
	return err
}

// AppendEvent appends an event to the per-run log. Append order is
// preserved by the seq column; occurred_at carries the event's own
// timestamp for cross-run ordering. There is no foreign key to runs:
// events may arrive before their run row exists.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.RawEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (event_id, run_id, session_id, kind, occurred_at, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.SessionID, event.Kind, event.OccurredAt, string(payload))
	return err
}

// GetEvents retrieves events for a run in append order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterTs int64, kinds []string, limit int) ([]domain.RawEvent, error) {
	query := `SELECT payload FROM run_events WHERE run_id = ?`
	args := []interface{}{runID}

	if afterTs > 0 {
		query += ` AND occurred_at > ?`
		args = append(args, afterTs)
	}

	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		query += fmt.Sprintf(" AND kind IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.RawEvent, error) {
	var events []domain.RawEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event domain.RawEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// LoadRuns returns every run of the session ordered by started_at, each
// with its full event log attached in append order.
func (s *SQLiteStore) LoadRuns(ctx context.Context, sessionID string) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, session_id, parent_run_id, agent_name, input_text, final_content, status, started_at, completed_at
		 FROM runs WHERE session_id = ? ORDER BY started_at ASC, run_id ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		events, err := s.GetEvents(ctx, runs[i].RunID, 0, nil, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to load events for run %s: %w", runs[i].RunID, err)
		}
		runs[i].Events = events
	}
	return runs, nil
}
