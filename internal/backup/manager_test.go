package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/storage"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newManager(t *testing.T, opts ...Option) (*Manager, string, *stepClock) {
	t.Helper()
	root := t.TempDir()
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m, err := New(filepath.Join(root, "backups"), append([]Option{WithClock(clock.now)}, opts...)...)
	require.NoError(t, err)
	return m, root, clock
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCaptureNamesAndLists(t *testing.T) {
	m, root, _ := newManager(t)
	ledger := filepath.Join(root, "transactions.json")
	writeFile(t, ledger, `[]`)

	rec, err := m.Capture(ledger, model.BackupScheduled)
	require.NoError(t, err)
	assert.Equal(t, "transactions.json.scheduled.2026-03-01T12-00-01.000Z.bak", rec.FileName)
	assert.Equal(t, "transactions.json", rec.SourceFile)
	assert.Equal(t, int64(2), rec.SizeBytes)

	data, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	writeFile(t, filepath.Join(m.Dir(), "notes.txt"), "ignored")
	_, err = m.Capture(ledger, model.BackupCorrupted)
	require.NoError(t, err)

	all, err := m.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.BackupCorrupted, all[0].Reason, "newest first")
	assert.True(t, m.HasBackups("transactions.json"))
	assert.False(t, m.HasBackups("wallet.json"))
}

func TestCaptureSameInstantGetsUniqueNames(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := New(t.TempDir(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "index-map.json")
	writeFile(t, src, `{}`)

	a, err := m.Capture(src, model.BackupScheduled)
	require.NoError(t, err)
	b, err := m.Capture(src, model.BackupScheduled)
	require.NoError(t, err)
	assert.NotEqual(t, a.FileName, b.FileName)
}

func TestRestoreVerifiesUnlessForced(t *testing.T) {
	var restored atomic.Int32
	m, root, _ := newManager(t)
	m.OnRestore(func(string) { restored.Add(1) })
	ledger := filepath.Join(root, "transactions.json")
	writeFile(t, ledger, `{"broken"`)
	bad, err := m.Capture(ledger, model.BackupCorrupted)
	require.NoError(t, err)

	_, err = m.Restore(bad.FileName, false)
	assert.ErrorIs(t, err, ErrBackupInvalid)
	assert.Zero(t, restored.Load())

	writeFile(t, ledger, `[{"txId":"a"}]`)
	res, err := m.Restore(bad.FileName, true)
	require.NoError(t, err)
	assert.True(t, res.Restored)
	require.NotNil(t, res.PreRestore)
	assert.Equal(t, model.BackupPreRestore, res.PreRestore.Reason)
	assert.Equal(t, int32(1), restored.Load())

	data, err := os.ReadFile(ledger)
	require.NoError(t, err)
	assert.Equal(t, `{"broken"`, string(data))

	pre, err := os.ReadFile(res.PreRestore.Path)
	require.NoError(t, err)
	assert.Equal(t, `[{"txId":"a"}]`, string(pre))
}

func TestRestoreWaitsForInFlightUpdate(t *testing.T) {
	m, root, _ := newManager(t)
	path := filepath.Join(root, "transactions.json")
	writeFile(t, path, `["backed-up"]`)
	rec, err := m.Capture(path, model.BackupScheduled)
	require.NoError(t, err)

	doc := storage.NewDocument(path, func() []string { return []string{} })
	entered, release := make(chan struct{}), make(chan struct{})
	updated := make(chan error, 1)
	go func() {
		updated <- doc.Update(func(v *[]string) error {
			close(entered)
			<-release
			*v = append(*v, "late")
			return nil
		})
	}()
	<-entered

	restored := make(chan model.RestoreResult, 1)
	go func() {
		res, _ := m.Restore(rec.FileName, true)
		restored <- res
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-updated)
	res := <-restored
	require.True(t, res.Restored)

	got, err := doc.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"backed-up"}, got, "the update cannot overwrite the restore")

	require.NotNil(t, res.PreRestore)
	pre, err := storage.Decode[[]string](res.PreRestore.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"backed-up", "late"}, pre, "the update is kept in the pre-restore backup")
}

func TestRestoreRejectsUnknownNames(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Restore("../../etc/passwd", true)
	assert.ErrorIs(t, err, ErrBackupNotFound)
	_, err = m.Restore("wallet.json.scheduled.2026-03-01T12-00-01.000Z.bak", true)
	assert.ErrorIs(t, err, ErrBackupNotFound)
}

func TestRecoverSkipsMalformedNewest(t *testing.T) {
	m, root, _ := newManager(t)
	ledger := filepath.Join(root, "transactions.json")

	writeFile(t, ledger, `[{"txId":"oldest"}]`)
	_, err := m.Capture(ledger, model.BackupScheduled)
	require.NoError(t, err)
	writeFile(t, ledger, `[{"txId":"second"}]`)
	second, err := m.Capture(ledger, model.BackupScheduled)
	require.NoError(t, err)
	writeFile(t, ledger, `[{"txId":`)
	_, err = m.Capture(ledger, model.BackupScheduled)
	require.NoError(t, err)

	require.NoError(t, os.Remove(ledger))
	res, err := m.RecoverFile("transactions.json")
	require.NoError(t, err)
	assert.Equal(t, second.FileName, res.Backup)

	data, err := os.ReadFile(ledger)
	require.NoError(t, err)
	assert.Equal(t, `[{"txId":"second"}]`, string(data))
}

func TestRecoverWithoutValidBackup(t *testing.T) {
	m, root, _ := newManager(t)
	ledger := filepath.Join(root, "transactions.json")
	writeFile(t, ledger, ` `)
	_, err := m.Capture(ledger, model.BackupCorrupted)
	require.NoError(t, err)

	res, err := m.RecoverFile("transactions.json")
	assert.ErrorIs(t, err, ErrNoValidBackup)
	assert.False(t, res.Restored)
	assert.NotEmpty(t, res.Error)
}

func TestCustomVerifier(t *testing.T) {
	m, root, _ := newManager(t, WithVerifier(func(source string, data []byte) error {
		if source == "transactions.json" && data[0] != '[' {
			return errors.New("ledger must be an array")
		}
		return nil
	}))
	ledger := filepath.Join(root, "transactions.json")
	writeFile(t, ledger, `{"not":"an array"}`)
	rec, err := m.Capture(ledger, model.BackupCorrupted)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Verify(rec.FileName), ErrBackupInvalid)
}

func TestUpload(t *testing.T) {
	m, root, _ := newManager(t)
	_, err := m.Upload("wallet.json", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownFile)

	wallet := filepath.Join(root, "wallet.json")
	m.Register(wallet)
	_, err = m.Upload("wallet.json", []byte(`not json`))
	assert.ErrorIs(t, err, ErrBackupInvalid)

	rec, err := m.Upload("wallet.json", []byte(`{"mnemonic":"x","activeAddresses":{}}`))
	require.NoError(t, err)
	assert.Equal(t, model.BackupUploaded, rec.Reason)
	assert.NoError(t, m.Verify(rec.FileName))
}

func TestCleanupKeepsNewestPerFile(t *testing.T) {
	m, root, clock := newManager(t)
	ledger := filepath.Join(root, "transactions.json")
	wallet := filepath.Join(root, "wallet.json")
	writeFile(t, ledger, `[]`)
	writeFile(t, wallet, `{}`)

	old1, err := m.Capture(ledger, model.BackupScheduled)
	require.NoError(t, err)
	onlyWallet, err := m.Capture(wallet, model.BackupScheduled)
	require.NoError(t, err)
	newest, err := m.Capture(ledger, model.BackupScheduled)
	require.NoError(t, err)

	clock.t = clock.t.Add(30 * 24 * time.Hour)
	removed, err := m.Cleanup(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{old1.FileName}, removed)

	for _, rec := range []*model.BackupRecord{onlyWallet, newest} {
		_, err := os.Stat(rec.Path)
		assert.NoError(t, err, rec.FileName)
	}
}

func TestEnsureInitial(t *testing.T) {
	m, root, _ := newManager(t)
	ledger := filepath.Join(root, "transactions.json")
	broken := filepath.Join(root, "index-map.json")
	writeFile(t, ledger, `[]`)
	writeFile(t, broken, `{`)
	m.Register(ledger)
	m.Register(broken)
	m.Register(filepath.Join(root, "wallet.json"))

	recs, err := m.EnsureInitial()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "transactions.json", recs[0].SourceFile)
	assert.Equal(t, model.BackupInitial, recs[0].Reason)

	recs, err = m.EnsureInitial()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSchedulerRunOnceContinuesAfterFailure(t *testing.T) {
	var ran []string
	s := NewScheduler(time.Hour, nil,
		Job{Name: "first", Run: func(context.Context) error { ran = append(ran, "first"); return errors.New("boom") }},
		Job{Name: "second", Run: func(context.Context) error { ran = append(ran, "second"); return nil }},
	)
	s.RunOnce(context.Background())
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewScheduler(time.Millisecond, nil).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestIsBackupName(t *testing.T) {
	assert.True(t, IsBackupName("wallet.json.pre-restore.2026-03-01T12-00-01.000Z.bak"))
	assert.False(t, IsBackupName("wallet.json.bak"))
	assert.False(t, IsBackupName("wallet.json.manual.2026-03-01T12-00-01.000Z.bak"))
}
