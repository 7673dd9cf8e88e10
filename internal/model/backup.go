package model

import "time"

// BackupReason tags why a backup was captured.
type BackupReason string

const (
	BackupScheduled  BackupReason = "scheduled"
	BackupCorrupted  BackupReason = "corrupted"
	BackupPreRestore BackupReason = "pre-restore"
	BackupUploaded   BackupReason = "uploaded"
	BackupInitial    BackupReason = "initial"
)

// BackupRecord describes one backup file on disk.
type BackupRecord struct {
	FileName   string       `json:"fileName"`
	SourceFile string       `json:"sourceFile"`
	Reason     BackupReason `json:"reason"`
	CreatedAt  time.Time    `json:"createdAt"`
	SizeBytes  int64        `json:"sizeBytes"`
	Path       string       `json:"path"`
}

// FileState is the integrity classification of a critical file.
type FileState string

const (
	FileHealthy   FileState = "healthy"
	FileMissing   FileState = "missing"
	FileEmpty     FileState = "empty"
	FileCorrupted FileState = "corrupted"
)

// FileStatus is the integrity report for one critical file.
type FileStatus struct {
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	Required     bool          `json:"required"`
	State        FileState     `json:"state"`
	Error        string        `json:"error,omitempty"`
	SizeBytes    int64         `json:"sizeBytes"`
	ModifiedAt   *time.Time    `json:"modifiedAt,omitempty"`
	Created      bool          `json:"created,omitempty"`
	Backup       *BackupRecord `json:"backup,omitempty"`
	BackupCount  int           `json:"backupCount"`
	LatestBackup *time.Time    `json:"latestBackup,omitempty"`
}

// DatabaseStatusResponse represents response for GET /api/admin/database/status
type DatabaseStatusResponse struct {
	Success   bool         `json:"success"`
	Healthy   bool         `json:"healthy"`
	Cached    bool         `json:"cached"`
	CheckedAt time.Time    `json:"checkedAt"`
	Files     []FileStatus `json:"files"`
}

// BackupListResponse represents response for GET /api/admin/database/backups
type BackupListResponse struct {
	Success bool           `json:"success"`
	Backups []BackupRecord `json:"backups"`
}

// BackupRequest represents request for POST /api/admin/database/backup
type BackupRequest struct {
	File string `json:"file,omitempty"`
}

// BackupResponse represents response for POST /api/admin/database/backup
type BackupResponse struct {
	Success bool           `json:"success"`
	Backups []BackupRecord `json:"backups"`
	Errors  []string       `json:"errors,omitempty"`
}

// RestoreRequest represents request for POST /api/admin/database/restore
type RestoreRequest struct {
	FileName string `json:"fileName"`
	Force    bool   `json:"force"`
}

// VerifyRequest represents request for POST /api/admin/database/backups/verify
type VerifyRequest struct {
	FileName string `json:"fileName"`
}

// VerifyResponse represents response for POST /api/admin/database/backups/verify
type VerifyResponse struct {
	Success bool   `json:"success"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

// RestoreResult is the outcome of restoring one file.
type RestoreResult struct {
	File       string        `json:"file"`
	State      FileState     `json:"state,omitempty"`
	Restored   bool          `json:"restored"`
	Reset      bool          `json:"reset,omitempty"`
	Backup     string        `json:"backup,omitempty"`
	PreRestore *BackupRecord `json:"preRestore,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// RestoreResponse represents response for restore and recover endpoints
type RestoreResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Results []RestoreResult `json:"results"`
}

// UploadRequest represents request for POST /api/admin/database/backups/upload
type UploadRequest struct {
	SourceFile string `json:"sourceFile"`
	Content    string `json:"content"`
}

// CleanupResponse represents response for POST /api/admin/database/backups/cleanup
type CleanupResponse struct {
	Success bool     `json:"success"`
	Removed []string `json:"removed"`
}
