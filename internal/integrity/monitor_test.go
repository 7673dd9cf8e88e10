package integrity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexZinkM/paygate/internal/backup"
	"github.com/AlexZinkM/paygate/internal/model"
)

type fixture struct {
	dir     string
	ledger  string
	book    string
	index   string
	backups *backup.Manager
	monitor *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:    dir,
		ledger: filepath.Join(dir, "transactions.json"),
		book:   filepath.Join(dir, "wallet.json"),
		index:  filepath.Join(dir, "index-map.json"),
	}
	specs := []CriticalFileSpec{LedgerSpec(f.ledger), AddressBookSpec(f.book), IndexMapSpec(f.index)}
	v, err := NewValidator(specs)
	require.NoError(t, err)

	tick := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	f.backups, err = backup.New(filepath.Join(dir, "backups"), backup.WithVerifier(v.Validate), backup.WithClock(clock))
	require.NoError(t, err)
	f.monitor = New(specs, v, f.backups)
	return f
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func stateOf(r Report, name string) model.FileStatus {
	for _, st := range r.Files {
		if st.Name == name {
			return st
		}
	}
	return model.FileStatus{}
}

const validBook = `{"mnemonic":"sealed","activeAddresses":{}}`

func TestClassification(t *testing.T) {
	f := newFixture(t)
	write(t, f.book, validBook)
	write(t, f.ledger, "  \n")

	r := f.monitor.Check(true)
	assert.False(t, r.Healthy)
	assert.Equal(t, model.FileEmpty, stateOf(r, "transactions.json").State)
	assert.Equal(t, model.FileHealthy, stateOf(r, "wallet.json").State)
	assert.Equal(t, model.FileMissing, stateOf(r, "index-map.json").State)

	write(t, f.ledger, `[{"txId":"a","status":"pending","type":"payment"}]`)
	r = f.monitor.Check(true)
	assert.True(t, r.Healthy, "optional missing file does not make the set unhealthy")
	assert.Equal(t, model.FileHealthy, stateOf(r, "transactions.json").State)
}

func TestCorruptedLedgerIsBackedUpVerbatim(t *testing.T) {
	f := newFixture(t)
	write(t, f.book, validBook)
	original := `{"not":"an array"}`
	write(t, f.ledger, original)

	r := f.monitor.Check(true)
	st := stateOf(r, "transactions.json")
	require.Equal(t, model.FileCorrupted, st.State)
	require.NotNil(t, st.Backup)
	assert.True(t, strings.HasPrefix(st.Backup.FileName, "transactions.json.corrupted."))
	assert.True(t, strings.HasSuffix(st.Backup.FileName, ".bak"))
	assert.Equal(t, 1, st.BackupCount)

	data, err := os.ReadFile(filepath.Join(f.backups.Dir(), st.Backup.FileName))
	require.NoError(t, err)
	assert.Equal(t, original, string(data))

	r = f.monitor.Check(true)
	assert.Nil(t, stateOf(r, "transactions.json").Backup, "same bad bytes are captured once")
	assert.Equal(t, 1, stateOf(r, "transactions.json").BackupCount)
}

func TestRequiredFileCreatedOnlyWithoutPriorData(t *testing.T) {
	f := newFixture(t)
	write(t, f.book, validBook)

	r := f.monitor.Check(true)
	st := stateOf(r, "transactions.json")
	assert.Equal(t, model.FileHealthy, st.State)
	assert.True(t, st.Created)
	data, err := os.ReadFile(f.ledger)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	_, err = f.backups.Capture(f.ledger, model.BackupScheduled)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.ledger))

	r = f.monitor.Check(true)
	assert.Equal(t, model.FileMissing, stateOf(r, "transactions.json").State)
	_, err = os.Stat(f.ledger)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.Remove(f.book))
	r = f.monitor.Check(true)
	assert.Equal(t, model.FileMissing, stateOf(r, "wallet.json").State, "address book is never generated")
}

func TestStatusCache(t *testing.T) {
	f := newFixture(t)
	write(t, f.book, validBook)
	write(t, f.ledger, `[]`)

	first := f.monitor.Check(false)
	assert.False(t, first.Cached)

	write(t, f.ledger, `{}`)
	cached := f.monitor.Check(false)
	assert.True(t, cached.Cached)
	assert.Equal(t, model.FileHealthy, stateOf(cached, "transactions.json").State)

	forced := f.monitor.Check(true)
	assert.False(t, forced.Cached)
	assert.Equal(t, model.FileCorrupted, stateOf(forced, "transactions.json").State)

	f.monitor.Invalidate()
	assert.False(t, f.monitor.Check(false).Cached)
}

func TestAutoRecoverUsesNewestValidBackup(t *testing.T) {
	f := newFixture(t)
	write(t, f.book, validBook)

	write(t, f.ledger, `[{"txId":"one","status":"confirmed","type":"payment"}]`)
	_, err := f.backups.Capture(f.ledger, model.BackupScheduled)
	require.NoError(t, err)
	good := `[{"txId":"two","status":"confirmed","type":"payment"}]`
	write(t, f.ledger, good)
	second, err := f.backups.Capture(f.ledger, model.BackupScheduled)
	require.NoError(t, err)
	write(t, f.ledger, `[{"txId":`)

	results := f.monitor.AutoRecover()
	require.Len(t, results, 1)
	assert.True(t, results[0].Restored)
	assert.Equal(t, model.FileCorrupted, results[0].State)
	assert.Equal(t, second.FileName, results[0].Backup, "the corrupted capture is skipped")

	data, err := os.ReadFile(f.ledger)
	require.NoError(t, err)
	assert.Equal(t, good, string(data))
	assert.True(t, f.monitor.Check(false).Healthy)
}

func TestAutoRecoverResetsToDefaultWithoutBackups(t *testing.T) {
	f := newFixture(t)
	write(t, f.book, validBook)
	write(t, f.ledger, `"scalar"`)

	results := f.monitor.AutoRecover()
	require.Len(t, results, 1)
	assert.True(t, results[0].Reset)
	assert.Empty(t, results[0].Error)

	data, err := os.ReadFile(f.ledger)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	recs, err := f.backups.ListFor("transactions.json")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.BackupCorrupted, recs[0].Reason)
}

type failingCapture struct{ *backup.Manager }

func (failingCapture) Capture(string, model.BackupReason) (*model.BackupRecord, error) {
	return nil, errors.New("no space left on device")
}

func TestAutoRecoverKeepsFileWhenCaptureFails(t *testing.T) {
	f := newFixture(t)
	specs := f.monitor.Specs()
	v, err := NewValidator(specs)
	require.NoError(t, err)
	monitor := New(specs, v, failingCapture{f.backups})

	write(t, f.book, validBook)
	write(t, f.ledger, `"scalar"`)

	results := monitor.AutoRecover()
	require.Len(t, results, 1)
	assert.False(t, results[0].Reset)
	assert.False(t, results[0].Restored)
	assert.Contains(t, results[0].Error, "not backed up")

	data, err := os.ReadFile(f.ledger)
	require.NoError(t, err)
	assert.Equal(t, `"scalar"`, string(data), "damaged bytes stay until a backup holds them")
}

func TestBackupHealthy(t *testing.T) {
	f := newFixture(t)
	write(t, f.book, validBook)
	write(t, f.ledger, `[]`)
	write(t, f.index, `{"ETH":{"0xabc":3}}`)

	recs, err := f.monitor.BackupHealthy(model.BackupScheduled)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestIndexMapSchema(t *testing.T) {
	v, err := NewValidator([]CriticalFileSpec{IndexMapSpec("index-map.json")})
	require.NoError(t, err)
	assert.NoError(t, v.Validate("index-map.json", []byte(`{"SOL":{"Abc":0}}`)))
	assert.ErrorIs(t, v.Validate("index-map.json", []byte(`{"SOL":{"Abc":-1}}`)), ErrSchema)
	assert.Error(t, v.Validate("index-map.json", []byte(`{"SOL":`)))
	assert.NoError(t, v.Validate("other.json", []byte(`{}`)))
}

func TestWatchInvalidatesOnExternalWrite(t *testing.T) {
	f := newFixture(t)
	write(t, f.book, validBook)
	write(t, f.ledger, `[]`)
	f.monitor.Check(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.monitor.Watch(ctx) }()

	assert.Eventually(t, func() bool {
		_ = os.WriteFile(f.ledger, []byte(`[ ]`), 0o600)
		return !f.monitor.Check(false).Cached
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
