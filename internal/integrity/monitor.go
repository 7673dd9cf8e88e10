// Package integrity classifies each critical file as healthy, missing, empty or
// corrupted, captures a backup of every damaged file and drives recovery.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/AlexZinkM/paygate/internal/backup"
	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/metrics"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/storage"
)

const statusKey = "status"

var allStates = []string{
	string(model.FileHealthy),
	string(model.FileMissing),
	string(model.FileEmpty),
	string(model.FileCorrupted),
}

// ErrUnknownFile is returned for a name that is not a critical file.
var ErrUnknownFile = errors.New("not a critical file")

// Backups is the part of the backup manager the monitor drives.
type Backups interface {
	Register(path string)
	OnRestore(fn func(path string))
	Capture(path string, reason model.BackupReason) (*model.BackupRecord, error)
	ListFor(source string) ([]model.BackupRecord, error)
	RecoverFile(source string) (model.RestoreResult, error)
}

// Report is the result of one integrity check.
type Report struct {
	CheckedAt time.Time
	Healthy   bool
	Cached    bool
	Files     []model.FileStatus
}

// Monitor polices a fixed registry of critical files.
type Monitor struct {
	specs     []CriticalFileSpec
	validator *Validator
	backups   Backups
	status    *cache.Cache

	mu sync.Mutex
	// sha256 of the last damaged content captured per file, so repeated checks of
	// the same bad bytes produce one corrupted backup.
	captured map[string]string

	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStatusTTL sets how long a check result is served from cache.
func WithStatusTTL(ttl time.Duration) Option {
	return func(m *Monitor) {
		if ttl > 0 {
			m.status = cache.New(ttl, 2*ttl)
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// New registers specs with backups and returns a monitor. Every restore performed by
// backups invalidates the status cache.
func New(specs []CriticalFileSpec, validator *Validator, backups Backups, opts ...Option) *Monitor {
	m := &Monitor{
		specs:     specs,
		validator: validator,
		backups:   backups,
		status:    cache.New(60*time.Second, 2*time.Minute),
		captured:  make(map[string]string),
		now:       time.Now,
		log:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, spec := range specs {
		backups.Register(spec.Path)
	}
	backups.OnRestore(func(string) { m.Invalidate() })
	return m
}

// Specs returns the registry.
func (m *Monitor) Specs() []CriticalFileSpec {
	return append([]CriticalFileSpec(nil), m.specs...)
}

// Spec returns the critical file registered under name.
func (m *Monitor) Spec(name string) (CriticalFileSpec, error) {
	for _, spec := range m.specs {
		if spec.Name == name {
			return spec, nil
		}
	}
	return CriticalFileSpec{}, fmt.Errorf("%w: %s", ErrUnknownFile, name)
}

// Invalidate drops the cached status.
func (m *Monitor) Invalidate() {
	m.status.Delete(statusKey)
}

// Check classifies every critical file. A recent result is returned from cache
// unless force is set. Damaged files are backed up as corrupted before the report
// is returned.
func (m *Monitor) Check(force bool) Report {
	if !force {
		if cached, ok := m.status.Get(statusKey); ok {
			r := cached.(Report)
			r.Cached = true
			r.Files = append([]model.FileStatus(nil), r.Files...)
			return r
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{CheckedAt: m.now().UTC(), Healthy: true}
	for _, spec := range m.specs {
		st := m.inspect(spec)
		if st.State != model.FileHealthy && (spec.Required || st.State != model.FileMissing) {
			report.Healthy = false
		}
		m.metrics.FileState(spec.Name, string(st.State), allStates)
		report.Files = append(report.Files, st)
	}
	m.status.SetDefault(statusKey, report)
	return report
}

func (m *Monitor) inspect(spec CriticalFileSpec) (st model.FileStatus) {
	st = model.FileStatus{Name: spec.Name, Path: spec.Path, Required: spec.Required}
	defer m.annotateBackups(&st)

	info, err := os.Stat(spec.Path)
	if errors.Is(err, os.ErrNotExist) {
		st.State = model.FileMissing
		if spec.Required && spec.DefaultContent != nil && !m.hasPriorData(spec) {
			if err := storage.ReplaceFile(spec.Path, spec.DefaultContent, 0o600); err != nil {
				st.Error = fmt.Sprintf("failed to create default: %v", err)
				return st
			}
			m.log.Info("critical file created from default", "file", spec.Name)
			st.State = model.FileHealthy
			st.Created = true
			st.SizeBytes = int64(len(spec.DefaultContent))
			return st
		}
		if spec.Required {
			m.log.Error("critical file missing", logging.Flagged(), "file", spec.Name, "state", string(st.State))
		}
		return st
	}
	if err != nil {
		st.State = model.FileCorrupted
		st.Error = err.Error()
		return st
	}
	mod := info.ModTime().UTC()
	st.ModifiedAt = &mod
	st.SizeBytes = info.Size()

	data, err := os.ReadFile(spec.Path)
	if err != nil {
		st.State = model.FileCorrupted
		st.Error = err.Error()
		return st
	}
	if err := m.validator.Validate(spec.Name, data); err != nil {
		st.State = model.FileCorrupted
		if errors.Is(err, storage.ErrEmpty) {
			st.State = model.FileEmpty
		}
		st.Error = err.Error()
		st.Backup, _ = m.captureDamaged(spec, data)
		m.log.Error("critical file failed integrity check", logging.Flagged(),
			"file", spec.Name, "state", string(st.State), "error", err.Error(), "backup", backupName(st.Backup))
		return st
	}
	delete(m.captured, spec.Name)
	st.State = model.FileHealthy
	return st
}

// hasPriorData reports evidence that a missing file once held data: any backup of it.
func (m *Monitor) hasPriorData(spec CriticalFileSpec) bool {
	recs, err := m.backups.ListFor(spec.Name)
	return err != nil || len(recs) > 0
}

// captureDamaged backs up data unless the same bytes were already captured, in which
// case it returns a nil record and no error. Callers hold m.mu.
func (m *Monitor) captureDamaged(spec CriticalFileSpec, data []byte) (*model.BackupRecord, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if m.captured[spec.Name] == digest {
		return nil, nil
	}
	rec, err := m.backups.Capture(spec.Path, model.BackupCorrupted)
	if err != nil {
		m.log.Error("failed to back up damaged file", logging.Flagged(), "file", spec.Name, "error", err.Error())
		return nil, err
	}
	m.captured[spec.Name] = digest
	return rec, nil
}

func (m *Monitor) annotateBackups(st *model.FileStatus) {
	recs, err := m.backups.ListFor(st.Name)
	if err != nil || len(recs) == 0 {
		return
	}
	st.BackupCount = len(recs)
	latest := recs[0].CreatedAt
	st.LatestBackup = &latest
}

// AutoRecover restores every damaged or missing required file from its newest
// verified backup. A file with no usable backup but a default is reset to the
// default, but only once its damaged content is held in a backup.
func (m *Monitor) AutoRecover() []model.RestoreResult {
	report := m.Check(true)
	var results []model.RestoreResult
	for _, st := range report.Files {
		if st.State == model.FileHealthy || (st.State == model.FileMissing && !st.Required) {
			continue
		}
		spec, _ := m.Spec(st.Name)
		res, err := m.backups.RecoverFile(spec.Name)
		res.File, res.State = spec.Name, st.State
		if err != nil && errors.Is(err, backup.ErrNoValidBackup) && spec.DefaultContent != nil {
			if werr := m.resetToDefault(spec); werr == nil {
				res.Reset, res.Error = true, ""
				m.log.Warn("critical file reset to default", logging.Flagged(), "file", spec.Name, "state", string(st.State))
			} else {
				res.Error = werr.Error()
			}
		}
		results = append(results, res)
	}
	m.Invalidate()
	return results
}

// resetToDefault overwrites spec's file with its default content. Existing content
// is captured first; if that fails the file is left as it is.
func (m *Monitor) resetToDefault(spec CriticalFileSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unlock := storage.LockFile(spec.Path)
	defer unlock()

	data, err := os.ReadFile(spec.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read %s before reset: %w", spec.Name, err)
	default:
		if _, err := m.captureDamaged(spec, data); err != nil {
			return fmt.Errorf("reset skipped, damaged content not backed up: %w", err)
		}
	}
	return storage.WriteAtomic(spec.Path, spec.DefaultContent, 0o600)
}

// BackupHealthy captures a backup of every currently healthy file.
func (m *Monitor) BackupHealthy(reason model.BackupReason) ([]model.BackupRecord, error) {
	report := m.Check(true)
	var (
		out  []model.BackupRecord
		errs []error
	)
	for _, st := range report.Files {
		if st.State != model.FileHealthy {
			continue
		}
		rec, err := m.backups.Capture(st.Path, reason)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
			continue
		}
		out = append(out, *rec)
	}
	return out, errors.Join(errs...)
}

func backupName(rec *model.BackupRecord) string {
	if rec == nil {
		return ""
	}
	return rec.FileName
}
