package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
)

// Repository provides database operations for flash history
type Repository struct {
	db *sql.DB
}

// NewRepository opens the history database and ensures the schema exists
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateSession inserts a new session record
func (r *Repository) CreateSession(s *Session) error {
	slog.Info("database_create_session", "port", s.Port, "source", s.Source)

	query := `
		INSERT INTO sessions (port, source, image_path, image_sha256, backup_path, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		s.Port, s.Source, s.ImagePath, s.ImageSHA256, s.BackupPath, s.Status, s.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "port", s.Port, "error", err)
		return errors.Wrap(err, "failed to insert session")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	s.ID = id

	slog.Info("database_session_created", "session_id", s.ID, "port", s.Port)
	return nil
}

// UpdateSession updates an existing session record
func (r *Repository) UpdateSession(s *Session) error {
	slog.Info("database_update_session", "session_id", s.ID, "status", s.Status)

	query := `
		UPDATE sessions
		SET image_path = ?, image_sha256 = ?, backup_path = ?, status = ?,
		    error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		s.ImagePath, s.ImageSHA256, s.BackupPath, s.Status, s.ErrorMessage, s.ID)
	if err != nil {
		slog.Error("database_update_failed", "session_id", s.ID, "error", err)
		return errors.Wrap(err, "failed to update session")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_session_not_found_for_update", "session_id", s.ID)
		return fmt.Errorf("session not found: id=%d", s.ID)
	}

	slog.Info("database_session_updated", "session_id", s.ID, "status", s.Status)
	return nil
}

// FinishSession sets a session's terminal status and error message
func (r *Repository) FinishSession(id int64, status, errorMessage string) error {
	slog.Info("database_finish_session", "session_id", id, "status", status)

	query := `UPDATE sessions SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, errorMessage, id); err != nil {
		slog.Error("database_finish_failed", "session_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to finish session")
	}
	return nil
}

// ListSessions retrieves sessions, newest first, up to limit (0 for all)
func (r *Repository) ListSessions(limit int) ([]*Session, error) {
	query := `
		SELECT id, port, source, image_path, image_sha256, backup_path, status,
		       error_message, created_at, updated_at
		FROM sessions ORDER BY created_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var s Session
		var imagePath, imageSHA, backupPath, errorMessage sql.NullString

		err := rows.Scan(
			&s.ID, &s.Port, &s.Source, &imagePath, &imageSHA, &backupPath,
			&s.Status, &errorMessage, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}

		s.ImagePath = imagePath.String
		s.ImageSHA256 = imageSHA.String
		s.BackupPath = backupPath.String
		s.ErrorMessage = errorMessage.String

		sessions = append(sessions, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "session_count", len(sessions))
	return sessions, nil
}

// RecordBackup inserts a backup record for a session
func (r *Repository) RecordBackup(b *Backup) error {
	slog.Info("database_record_backup", "session_id", b.SessionID, "path", b.Path)

	query := `INSERT INTO backups (session_id, path, size_bytes) VALUES (?, ?, ?)`
	result, err := r.db.Exec(query, b.SessionID, b.Path, b.SizeBytes)
	if err != nil {
		slog.Error("database_backup_insert_failed", "session_id", b.SessionID, "error", err)
		return errors.Wrap(err, "failed to insert backup")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	b.ID = id
	return nil
}

// ListBackups retrieves all recorded backups, newest first
func (r *Repository) ListBackups() ([]*Backup, error) {
	query := `SELECT id, session_id, path, size_bytes, created_at FROM backups ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list backups")
	}
	defer rows.Close()

	var backups []*Backup
	for rows.Next() {
		var b Backup
		if err := rows.Scan(&b.ID, &b.SessionID, &b.Path, &b.SizeBytes, &b.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		backups = append(backups, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return backups, nil
}

// DeleteSession deletes a session and its backup records
func (r *Repository) DeleteSession(id int64) error {
	slog.Info("database_delete_session", "session_id", id)

	if _, err := r.db.Exec(`DELETE FROM backups WHERE session_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete session backups")
	}
	if _, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}
