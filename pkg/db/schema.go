package db

// Schema defines the SQLite schema for flash history. Sessions record
// every flashing run; backups record the flash dumps taken before a
// write so they can be found again later.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    port TEXT NOT NULL,
    source TEXT NOT NULL,
    image_path TEXT,
    image_sha256 TEXT,
    backup_path TEXT,
    status TEXT NOT NULL CHECK(status IN ('running', 'succeeded', 'aborted', 'failed')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_port ON sessions(port);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);

CREATE TABLE IF NOT EXISTS backups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL REFERENCES sessions(id),
    path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_backups_session_id ON backups(session_id);
`

// Session status constants
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusAborted   = "aborted"
	StatusFailed    = "failed"
)

// Session represents one flashing run.
type Session struct {
	ID           int64
	Port         string
	Source       string
	ImagePath    string
	ImageSHA256  string
	BackupPath   string
	Status       string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Backup represents one pre-flash dump of device flash.
type Backup struct {
	ID        int64
	SessionID int64
	Path      string
	SizeBytes int64
	CreatedAt string
}
