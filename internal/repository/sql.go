package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/prism/internal/domain"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	return Open(DriverSQLite, dsn)
}

// Open connects to the database with the given driver and runs migrations.
func Open(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer. A single pooled connection serializes
		// writers in database/sql instead of surfacing SQLITE_LOCKED from
		// shared-cache connections, and keeps in-memory databases visible
		// across goroutines.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	store := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations. The DDL sticks to types both drivers accept.
func (s *SQLStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_start TIMESTAMP NOT NULL,
			session_end TIMESTAMP NOT NULL,
			session_summary TEXT,
			session_analysis TEXT,
			session_scores TEXT,
			ended BOOLEAN NOT NULL DEFAULT FALSE,
			summary_started BOOLEAN NOT NULL DEFAULT FALSE,
			summarized BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, session_start)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_end ON sessions(ended, session_end)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			profile_json TEXT,
			prev_profile_json TEXT,
			summary TEXT,
			prev_summary TEXT,
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

// execOne runs an update that must touch a row, mapping zero rows to notFound.
func (s *SQLStore) execOne(ctx context.Context, notFound error, query string, args ...interface{}) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const sessionColumns = `session_id, user_id, session_start, session_end, session_summary, session_analysis, session_scores, ended, summary_started, summarized`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var summary, analysis, scores sql.NullString
	if err := row.Scan(&session.SessionID, &session.UserID, &session.Start, &session.End,
		&summary, &analysis, &scores, &session.Ended, &session.SummaryStarted, &session.Summarized); err != nil {
		return nil, err
	}
	if summary.Valid {
		session.Summary = &summary.String
	}
	if analysis.Valid {
		session.Analysis = &analysis.String
	}
	if scores.Valid {
		session.Scores = json.RawMessage(scores.String)
	}
	return &session, nil
}

// CreateSession creates a new session.
func (s *SQLStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.exec(ctx,
		`INSERT INTO sessions (session_id, user_id, session_start, session_end, ended, summary_started, summarized) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.UserID, session.Start.UTC(), session.End.UTC(), session.Ended, session.SummaryStarted, session.Summarized)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`), sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListUserSessions returns the sessions of a user ordered by start time.
func (s *SQLStore) ListUserSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY session_start ASC`, userID)
}

// ListExpiredSessions returns sessions whose end time has passed but are not yet marked ended.
func (s *SQLStore) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE ended = FALSE AND session_end <= ? ORDER BY session_end ASC LIMIT ?`,
		now.UTC(), limit)
}

func (s *SQLStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// AppendMessage appends a message to the transcript, assigning the next sequence number.
func (s *SQLStore) AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`),
		sessionID).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO messages (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`),
		sessionID, seq, string(msg.Role), msg.Content, msg.Timestamp.UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	msg.Seq = seq
	return nil
}

// GetMessages returns the full transcript in append order.
func (s *SQLStore) GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT seq, role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq ASC`),
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		if err := rows.Scan(&msg.Seq, &role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ClaimSummary performs the compare-and-set on summary_started.
func (s *SQLStore) ClaimSummary(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE sessions SET summary_started = TRUE WHERE session_id = ? AND summary_started = FALSE`,
		sessionID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseSummary resets summary_started after a failed run.
func (s *SQLStore) ReleaseSummary(ctx context.Context, sessionID string) error {
	return s.execOne(ctx, domain.ErrSessionNotFound,
		`UPDATE sessions SET summary_started = FALSE WHERE session_id = ?`, sessionID)
}

// MarkSummarized records pipeline completion.
func (s *SQLStore) MarkSummarized(ctx context.Context, sessionID string) error {
	return s.execOne(ctx, domain.ErrSessionNotFound,
		`UPDATE sessions SET summarized = TRUE, summary_started = TRUE WHERE session_id = ?`, sessionID)
}

// MarkEnded sets the ended flag.
func (s *SQLStore) MarkEnded(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.exec(ctx, `UPDATE sessions SET ended = TRUE WHERE session_id = ? AND ended = FALSE`, sessionID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *SQLStore) SaveSessionSummary(ctx context.Context, sessionID, summary string) error {
	return s.execOne(ctx, domain.ErrSessionNotFound,
		`UPDATE sessions SET session_summary = ? WHERE session_id = ?`, summary, sessionID)
}

func (s *SQLStore) SaveSessionAnalysis(ctx context.Context, sessionID, analysis string) error {
	return s.execOne(ctx, domain.ErrSessionNotFound,
		`UPDATE sessions SET session_analysis = ? WHERE session_id = ?`, analysis, sessionID)
}

func (s *SQLStore) SaveSessionScores(ctx context.Context, sessionID string, scores json.RawMessage) error {
	return s.execOne(ctx, domain.ErrSessionNotFound,
		`UPDATE sessions SET session_scores = ? WHERE session_id = ?`, string(scores), sessionID)
}

// EnsureProfile creates an empty profile row for the user if none exists.
func (s *SQLStore) EnsureProfile(ctx context.Context, userID string) error {
	_, err := s.exec(ctx,
		`INSERT INTO profiles (user_id, updated_at) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`,
		userID, s.now().UTC())
	return err
}

// RotateProfile moves current values into the previous generation.
func (s *SQLStore) RotateProfile(ctx context.Context, userID string) error {
	return s.execOne(ctx, domain.ErrProfileNotFound,
		`UPDATE profiles SET prev_profile_json = profile_json, prev_summary = summary, updated_at = ? WHERE user_id = ?`,
		s.now().UTC(), userID)
}

// GetProfile returns the profile row of a user.
func (s *SQLStore) GetProfile(ctx context.Context, userID string) (*domain.PsychometricProfile, error) {
	var p domain.PsychometricProfile
	var profileJSON, prevJSON, summary, prevSummary sql.NullString
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT user_id, profile_json, prev_profile_json, summary, prev_summary, updated_at FROM profiles WHERE user_id = ?`),
		userID).Scan(&p.UserID, &profileJSON, &prevJSON, &summary, &prevSummary, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	if profileJSON.Valid {
		p.ProfileJSON = json.RawMessage(profileJSON.String)
	}
	if prevJSON.Valid {
		p.PrevProfileJSON = json.RawMessage(prevJSON.String)
	}
	if summary.Valid {
		p.Summary = &summary.String
	}
	if prevSummary.Valid {
		p.PrevSummary = &prevSummary.String
	}
	return &p, nil
}

func (s *SQLStore) SaveProfileSummary(ctx context.Context, userID, summary string) error {
	return s.execOne(ctx, domain.ErrProfileNotFound,
		`UPDATE profiles SET summary = ?, updated_at = ? WHERE user_id = ?`, summary, s.now().UTC(), userID)
}

func (s *SQLStore) SaveProfileJSON(ctx context.Context, userID string, profile json.RawMessage) error {
	return s.execOne(ctx, domain.ErrProfileNotFound,
		`UPDATE profiles SET profile_json = ?, updated_at = ? WHERE user_id = ?`, string(profile), s.now().UTC(), userID)
}

// UpsertUser inserts or updates a user row.
func (s *SQLStore) UpsertUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO users (user_id, email, full_name, username, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET email = excluded.email, full_name = excluded.full_name,
			username = excluded.username, is_active = excluded.is_active`,
		user.UserID, user.Email, user.FullName, user.Username, user.IsActive, user.CreatedAt.UTC())
	return err
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT user_id, email, full_name, username, is_active, created_at FROM users WHERE user_id = ?`),
		userID).Scan(&u.UserID, &u.Email, &u.FullName, &u.Username, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
