// Package backup snapshots critical files into a backup directory and restores them.
//
// A backup is the source file's bytes stored verbatim under
// <basename>.<reason>.<UTC timestamp with dashes for colons>.bak, so the directory
// listing alone is enough to rebuild every BackupRecord.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/metrics"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/storage"
)

const timeLayout = "2006-01-02T15-04-05.000Z"

var namePattern = regexp.MustCompile(
	`^(.+)\.(scheduled|corrupted|pre-restore|uploaded|initial)\.(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3}Z)\.bak$`)

var (
	// ErrBackupInvalid is returned when backup content fails verification.
	ErrBackupInvalid = errors.New("backup failed verification")
	// ErrBackupNotFound is returned for an unknown backup name.
	ErrBackupNotFound = errors.New("backup not found")
	// ErrNoValidBackup is returned by RecoverFile when every backup of a file is bad.
	ErrNoValidBackup = errors.New("no valid backup available")
	// ErrUnknownFile is returned for a source file that was never registered.
	ErrUnknownFile = errors.New("file is not registered for backup")
)

// Verifier checks that data is acceptable content for sourceFile (a base name).
type Verifier func(sourceFile string, data []byte) error

// Manager owns the backup directory.
type Manager struct {
	dir string

	mu        sync.Mutex
	files     map[string]string
	verify    Verifier
	onRestore []func(path string)

	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithVerifier replaces the default well-formed JSON check.
func WithVerifier(v Verifier) Option {
	return func(m *Manager) {
		if v != nil {
			m.verify = v
		}
	}
}

// WithClock overrides the clock used for backup timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New creates a manager writing into dir.
func New(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	m := &Manager{
		dir:    dir,
		files:  make(map[string]string),
		verify: wellFormedJSON,
		now:    time.Now,
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.dir }

// Register makes path restorable under its base name.
func (m *Manager) Register(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filepath.Base(path)] = path
}

// Files returns registered base names, sorted.
func (m *Manager) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnRestore registers fn to run with the target path after every restore.
func (m *Manager) OnRestore(fn func(path string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRestore = append(m.onRestore, fn)
}

// Capture copies the current bytes of path into a new backup tagged reason.
func (m *Manager) Capture(path string, reason model.BackupReason) (*model.BackupRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s for backup: %w", filepath.Base(path), err)
	}
	m.Register(path)
	return m.write(filepath.Base(path), reason, data)
}

func (m *Manager) write(source string, reason model.BackupReason, data []byte) (*model.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.now().UTC().Truncate(time.Millisecond)
	name := fileName(source, reason, at)
	// Names must be unique; two captures in the same millisecond take the next one.
	for {
		if _, err := os.Stat(filepath.Join(m.dir, name)); errors.Is(err, os.ErrNotExist) {
			break
		}
		at = at.Add(time.Millisecond)
		name = fileName(source, reason, at)
	}

	path := filepath.Join(m.dir, name)
	if err := storage.WriteAtomic(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	m.metrics.BackupCaptured(string(reason))
	m.log.Info("backup captured", "file", source, "reason", string(reason), "backup", name, "size", len(data))
	return &model.BackupRecord{
		FileName:   name,
		SourceFile: source,
		Reason:     reason,
		CreatedAt:  at,
		SizeBytes:  int64(len(data)),
		Path:       path,
	}, nil
}

// List returns every backup in the directory, newest first.
func (m *Manager) List() ([]model.BackupRecord, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	records := make([]model.BackupRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rec, ok := parseName(e.Name())
		if !ok {
			continue
		}
		if info, err := e.Info(); err == nil {
			rec.SizeBytes = info.Size()
		}
		rec.Path = filepath.Join(m.dir, rec.FileName)
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].FileName > records[j].FileName
	})
	return records, nil
}

// ListFor returns the backups of one source file, newest first.
func (m *Manager) ListFor(source string) ([]model.BackupRecord, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if rec.SourceFile == source {
			out = append(out, rec)
		}
	}
	return out, nil
}

// HasBackups reports whether at least one backup of source exists.
func (m *Manager) HasBackups(source string) bool {
	recs, err := m.ListFor(source)
	return err == nil && len(recs) > 0
}

// Verify checks that the named backup would restore to valid content.
func (m *Manager) Verify(name string) error {
	rec, data, err := m.load(name)
	if err != nil {
		return err
	}
	return m.check(rec.SourceFile, data)
}

// Restore writes the named backup over its source file. Unless force is set the
// content is verified first. The current file, if any, is kept as a pre-restore backup.
func (m *Manager) Restore(name string, force bool) (model.RestoreResult, error) {
	rec, data, err := m.load(name)
	if err != nil {
		return model.RestoreResult{Backup: name, Error: err.Error()}, err
	}
	result := model.RestoreResult{File: rec.SourceFile, Backup: name}

	m.mu.Lock()
	target, ok := m.files[rec.SourceFile]
	m.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownFile, rec.SourceFile)
		result.Error = err.Error()
		return result, err
	}
	if !force {
		if err := m.check(rec.SourceFile, data); err != nil {
			result.Error = err.Error()
			return result, err
		}
	}

	if err := m.replace(target, data, &result); err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Restored = true
	m.log.Warn("file restored from backup", logging.Flagged(), "file", rec.SourceFile, "backup", name, "forced", force)

	m.mu.Lock()
	hooks := append([]func(string){}, m.onRestore...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(target)
	}
	return result, nil
}

// replace snapshots the current target and overwrites it, both under the file's
// lock so no document update lands between the snapshot and the write.
func (m *Manager) replace(target string, data []byte, result *model.RestoreResult) error {
	unlock := storage.LockFile(target)
	defer unlock()

	if _, statErr := os.Stat(target); statErr == nil {
		pre, err := m.Capture(target, model.BackupPreRestore)
		if err != nil {
			return fmt.Errorf("failed to snapshot current file: %w", err)
		}
		result.PreRestore = pre
	}
	if err := storage.WriteAtomic(target, data, 0o600); err != nil {
		return fmt.Errorf("failed to restore %s: %w", result.File, err)
	}
	return nil
}

// RecoverFile restores source from its newest backup that passes verification.
// Newer backups that fail verification are skipped.
func (m *Manager) RecoverFile(source string) (model.RestoreResult, error) {
	recs, err := m.ListFor(source)
	if err != nil {
		return model.RestoreResult{File: source, Error: err.Error()}, err
	}
	for _, rec := range recs {
		if err := m.Verify(rec.FileName); err != nil {
			m.log.Warn("skipping unusable backup", "file", source, "backup", rec.FileName, "error", err.Error())
			continue
		}
		return m.Restore(rec.FileName, true)
	}
	err = fmt.Errorf("%w for %s", ErrNoValidBackup, source)
	return model.RestoreResult{File: source, Error: err.Error()}, err
}

// Upload stores operator-supplied content as an uploaded backup of source.
func (m *Manager) Upload(source string, content []byte) (*model.BackupRecord, error) {
	source = filepath.Base(source)
	m.mu.Lock()
	_, ok := m.files[source]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, source)
	}
	if err := m.check(source, content); err != nil {
		return nil, err
	}
	return m.write(source, model.BackupUploaded, content)
}

// Cleanup deletes backups older than maxAge, always keeping the newest backup of
// every source file. It returns the removed file names.
func (m *Manager) Cleanup(maxAge time.Duration) ([]string, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-maxAge)
	kept := make(map[string]bool)
	removed := []string{}
	var errs []error
	for _, rec := range all {
		if !kept[rec.SourceFile] {
			kept[rec.SourceFile] = true
			continue
		}
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", rec.FileName, err))
			continue
		}
		removed = append(removed, rec.FileName)
	}
	if len(removed) > 0 {
		m.log.Info("old backups removed", "count", len(removed))
	}
	return removed, errors.Join(errs...)
}

// EnsureInitial captures an initial backup of every registered file that is valid
// and has no backup yet.
func (m *Manager) EnsureInitial() ([]model.BackupRecord, error) {
	var (
		out  []model.BackupRecord
		errs []error
	)
	for _, source := range m.Files() {
		if m.HasBackups(source) {
			continue
		}
		m.mu.Lock()
		path := m.files[source]
		m.mu.Unlock()
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if m.check(source, data) != nil {
			continue
		}
		rec, err := m.write(source, model.BackupInitial, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, *rec)
	}
	return out, errors.Join(errs...)
}

func (m *Manager) load(name string) (model.BackupRecord, []byte, error) {
	if name != filepath.Base(name) {
		return model.BackupRecord{}, nil, fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}
	rec, ok := parseName(name)
	if !ok {
		return model.BackupRecord{}, nil, fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}
	rec.Path = filepath.Join(m.dir, name)
	data, err := os.ReadFile(rec.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, nil, fmt.Errorf("%w: %s", ErrBackupNotFound, name)
		}
		return rec, nil, fmt.Errorf("failed to read backup: %w", err)
	}
	rec.SizeBytes = int64(len(data))
	return rec, data, nil
}

func (m *Manager) check(source string, data []byte) error {
	if err := m.verify(source, data); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupInvalid, err)
	}
	return nil
}

func fileName(source string, reason model.BackupReason, at time.Time) string {
	return fmt.Sprintf("%s.%s.%s.bak", source, reason, at.UTC().Format(timeLayout))
}

func parseName(name string) (model.BackupRecord, bool) {
	match := namePattern.FindStringSubmatch(name)
	if match == nil {
		return model.BackupRecord{}, false
	}
	at, err := time.Parse(timeLayout, match[3])
	if err != nil {
		return model.BackupRecord{}, false
	}
	return model.BackupRecord{
		FileName:   name,
		SourceFile: match[1],
		Reason:     model.BackupReason(match[2]),
		CreatedAt:  at.UTC(),
	}, true
}

func wellFormedJSON(_ string, data []byte) error {
	data = bytes.TrimSpace(storage.TrimBOM(data))
	if len(data) == 0 {
		return errors.New("content is empty")
	}
	if !json.Valid(data) {
		return errors.New("content is not valid JSON")
	}
	return nil
}

// IsBackupName reports whether name follows the backup naming scheme.
func IsBackupName(name string) bool {
	return namePattern.MatchString(name) && !strings.ContainsAny(name, `/\`)
}
