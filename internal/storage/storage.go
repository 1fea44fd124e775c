// Package storage persists stacking sessions, per-frame outcomes, and frame
// quality measurements in a local SQLite database.
package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for stacking runs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stack_sessions (
            id TEXT PRIMARY KEY,
            state TEXT NOT NULL,
            reference TEXT,
            strategy TEXT,
            total INTEGER,
            combined INTEGER DEFAULT 0,
            skipped INTEGER DEFAULT 0,
            dropped INTEGER DEFAULT 0,
            batch_size INTEGER,
            output_path TEXT,
            started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            finished_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS session_frames (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session_id TEXT NOT NULL,
            file_path TEXT NOT NULL,
            status TEXT NOT NULL,
            reason TEXT,
            recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS frame_quality (
            file_path TEXT PRIMARY KEY,
            stars INTEGER,
            fwhm REAL,
            sky_percent REAL,
            snr REAL,
            score REAL,
            measured_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_session_frames_session ON session_frames(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_session_frames_status ON session_frames(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// SessionRecord captures one stacking run.
type SessionRecord struct {
	ID         string
	State      string
	Reference  string
	Strategy   string
	Total      int
	Combined   int
	Skipped    int
	Dropped    int
	BatchSize  int
	Output     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// FrameRecord captures the outcome of one input frame within a session.
type FrameRecord struct {
	SessionID  string
	Path       string
	Status     string
	Reason     string
	RecordedAt time.Time
}

// Frame statuses recorded per session input.
const (
	FrameStacked    = "stacked"
	FrameDropped    = "dropped"
	FrameLoadFailed = "load_failed"
)

// QualityRecord captures per-file quality metrics.
type QualityRecord struct {
	Path       string
	Stars      int
	FWHM       float64
	SkyPercent float64
	SNR        float64
	Score      float64
	MeasuredAt time.Time
}

// RecordSessionStart inserts a running session.
func (s *Store) RecordSessionStart(rec SessionRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO stack_sessions (id, state, reference, strategy, total, batch_size, output_path) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.State, rec.Reference, rec.Strategy, rec.Total, rec.BatchSize, rec.Output)
	return err
}

// UpdateSessionProgress refreshes the live counters of a running session.
func (s *Store) UpdateSessionProgress(id string, combined, skipped, dropped int) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE stack_sessions SET combined=?, skipped=?, dropped=? WHERE id=?;`,
		combined, skipped, dropped, id)
	return err
}

// FinishSession finalizes a session with its terminal state and counters.
func (s *Store) FinishSession(id, state string, combined, skipped, dropped int, output, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE stack_sessions SET state=?, combined=?, skipped=?, dropped=?, output_path=?, error_message=?, finished_at=CURRENT_TIMESTAMP WHERE id=?;`,
		state, combined, skipped, dropped, output, errMsg, id)
	return err
}

// RecordFrame persists the outcome of one input frame.
func (s *Store) RecordFrame(rec FrameRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO session_frames (session_id, file_path, status, reason) VALUES (?, ?, ?, ?);`,
		rec.SessionID, rec.Path, rec.Status, rec.Reason)
	return err
}

// RecordQuality stores quality metrics for a frame, replacing older ones.
func (s *Store) RecordQuality(rec QualityRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO frame_quality (file_path, stars, fwhm, sky_percent, snr, score) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.Path, rec.Stars, rec.FWHM, rec.SkyPercent, rec.SNR, rec.Score)
	return err
}

// Sessions returns the latest sessions up to limit.
func (s *Store) Sessions(limit int) ([]SessionRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, state, reference, strategy, total, combined, skipped, dropped, batch_size, output_path, error_message, started_at, finished_at FROM stack_sessions ORDER BY started_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Session fetches a single session by id.
func (s *Store) Session(id string) (*SessionRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, state, reference, strategy, total, combined, skipped, dropped, batch_size, output_path, error_message, started_at, finished_at FROM stack_sessions WHERE id=?;`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	rec, err := scanSession(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanSession(rows *sql.Rows) (SessionRecord, error) {
	var rec SessionRecord
	var reference, strategy, output, errorMsg sql.NullString
	var finished sql.NullTime
	err := rows.Scan(&rec.ID, &rec.State, &reference, &strategy, &rec.Total, &rec.Combined, &rec.Skipped, &rec.Dropped, &rec.BatchSize, &output, &errorMsg, &rec.StartedAt, &finished)
	if err != nil {
		return rec, err
	}
	rec.Reference = reference.String
	rec.Strategy = strategy.String
	rec.Output = output.String
	rec.Error = errorMsg.String
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	return rec, nil
}

// Frames lists the recorded frame outcomes of a session in insertion order.
func (s *Store) Frames(sessionID string) ([]FrameRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT session_id, file_path, status, reason, recorded_at FROM session_frames WHERE session_id=? ORDER BY id;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var reason sql.NullString
		if err := rows.Scan(&rec.SessionID, &rec.Path, &rec.Status, &reason, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.Reason = reason.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// QualityFor fetches stored quality metrics for a file path.
func (s *Store) QualityFor(path string) (*QualityRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var rec QualityRecord
	err := s.DB.QueryRow(`SELECT file_path, stars, fwhm, sky_percent, snr, score, measured_at FROM frame_quality WHERE file_path=?;`, path).
		Scan(&rec.Path, &rec.Stars, &rec.FWHM, &rec.SkyPercent, &rec.SNR, &rec.Score, &rec.MeasuredAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
