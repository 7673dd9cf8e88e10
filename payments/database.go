package payments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AlexZinkM/paygate/internal/backup"
	"github.com/AlexZinkM/paygate/internal/model"
)

// DatabaseStatus reports the integrity of every critical file. force bypasses the
// cached status.
func (s *Service) DatabaseStatus(force bool) *model.DatabaseStatusResponse {
	r := s.Integrity.Check(force)
	return &model.DatabaseStatusResponse{
		Success:   true,
		Healthy:   r.Healthy,
		Cached:    r.Cached,
		CheckedAt: r.CheckedAt,
		Files:     r.Files,
	}
}

// CreateBackup captures a backup of one critical file, or of every healthy file
// when file is empty.
func (s *Service) CreateBackup(file string) (*model.BackupResponse, error) {
	resp := &model.BackupResponse{Success: true, Backups: []model.BackupRecord{}}
	if file == "" {
		recs, err := s.Integrity.BackupHealthy(model.BackupScheduled)
		resp.Backups = append(resp.Backups, recs...)
		if err != nil {
			resp.Errors = strings.Split(err.Error(), "\n")
			resp.Success = len(recs) > 0
		}
		return resp, nil
	}

	spec, err := s.Integrity.Spec(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	rec, err := s.Backups.Capture(spec.Path, model.BackupScheduled)
	if err != nil {
		return nil, fmt.Errorf("failed to back up %s: %w", spec.Name, err)
	}
	resp.Backups = append(resp.Backups, *rec)
	return resp, nil
}

// ListBackups returns every backup, newest first.
func (s *Service) ListBackups() (*model.BackupListResponse, error) {
	recs, err := s.Backups.List()
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []model.BackupRecord{}
	}
	return &model.BackupListResponse{Success: true, Backups: recs}, nil
}

// VerifyBackup checks a backup against its file's schema. A failed check is a
// result, not an error.
func (s *Service) VerifyBackup(name string) (*model.VerifyResponse, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: fileName is required", ErrInvalidRequest)
	}
	err := s.Backups.Verify(name)
	switch {
	case err == nil:
		return &model.VerifyResponse{Success: true, Valid: true}, nil
	case errors.Is(err, backup.ErrBackupNotFound):
		return nil, err
	default:
		return &model.VerifyResponse{Success: true, Valid: false, Error: err.Error()}, nil
	}
}

// RestoreBackup overwrites a critical file with a backup. Unless force is set the
// backup must verify first.
func (s *Service) RestoreBackup(name string, force bool) (*model.RestoreResponse, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: fileName is required", ErrInvalidRequest)
	}
	res, err := s.Backups.Restore(name, force)
	if err != nil {
		return nil, err
	}
	s.Integrity.Invalidate()
	return &model.RestoreResponse{
		Success: true,
		Message: fmt.Sprintf("%s restored from %s", res.File, name),
		Results: []model.RestoreResult{res},
	}, nil
}

// AutoRecover restores every damaged required file from its newest valid backup.
func (s *Service) AutoRecover() *model.RestoreResponse {
	results := s.Integrity.AutoRecover()
	fixed := 0
	for _, r := range results {
		if r.Restored || r.Reset {
			fixed++
		}
	}
	if results == nil {
		results = []model.RestoreResult{}
	}
	return &model.RestoreResponse{
		Success: fixed == len(results),
		Message: fmt.Sprintf("restored %d of %d damaged files", fixed, len(results)),
		Results: results,
	}
}

// UploadBackup stores operator-supplied content as a backup of sourceFile.
func (s *Service) UploadBackup(sourceFile, content string) (*model.BackupResponse, error) {
	if sourceFile == "" || content == "" {
		return nil, fmt.Errorf("%w: sourceFile and content are required", ErrInvalidRequest)
	}
	rec, err := s.Backups.Upload(sourceFile, []byte(content))
	if err != nil {
		return nil, err
	}
	return &model.BackupResponse{Success: true, Backups: []model.BackupRecord{*rec}}, nil
}

// CleanupBackups removes backups older than the configured maximum age, keeping the
// newest backup of each file.
func (s *Service) CleanupBackups() (*model.CleanupResponse, error) {
	removed, err := s.Backups.Cleanup(s.cfg.BackupMaxAge)
	if err != nil && len(removed) == 0 {
		return nil, err
	}
	if err != nil {
		s.Log.Warn("backup cleanup incomplete", "error", err.Error())
	}
	return &model.CleanupResponse{Success: true, Removed: removed}, nil
}
