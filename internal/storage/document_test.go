package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.json")
	require.NoError(t, WriteAtomic(path, []byte(`[1]`), 0o600))
	require.NoError(t, WriteAtomic(path, []byte(`[1,2]`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestDecodeClassifies(t *testing.T) {
	dir := t.TempDir()

	_, err := Decode[[]int](filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, ErrMissing)

	blank := filepath.Join(dir, "blank.json")
	require.NoError(t, os.WriteFile(blank, []byte("  \n"), 0o600))
	_, err = Decode[[]int](blank)
	assert.ErrorIs(t, err, ErrEmpty)

	shape := filepath.Join(dir, "shape.json")
	require.NoError(t, os.WriteFile(shape, []byte(`{"not":"an array"}`), 0o600))
	_, err = Decode[[]int](shape)
	assert.ErrorIs(t, err, ErrCorrupt)

	bom := filepath.Join(dir, "bom.json")
	require.NoError(t, os.WriteFile(bom, append([]byte{0xEF, 0xBB, 0xBF}, []byte(`[3]`)...), 0o600))
	values, err := Decode[[]int](bom)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, values)
}

func TestDocumentResetsAfterHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"an array"}`), 0o600))

	var seen []byte
	doc := NewDocument(path, func() []int { return []int{} },
		WithResetOnCorrupt[[]int](func(p string, cause error) error {
			assert.ErrorIs(t, cause, ErrCorrupt)
			seen, _ = os.ReadFile(p)
			return nil
		}))

	values, err := doc.Read()
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Equal(t, `{"not":"an array"}`, string(seen))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestDocumentHookFailureKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(`garbage`), 0o600))

	doc := NewDocument(path, func() []int { return []int{} },
		WithResetOnCorrupt[[]int](func(string, error) error { return errors.New("disk full") }))

	_, err := doc.Read()
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data))
}

func TestDocumentWithoutResetSurfacesCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, []byte(`[`), 0o600))

	doc := NewDocument(path, func() map[string]int { return map[string]int{} })
	err := doc.Update(func(m *map[string]int) error { (*m)["a"] = 1; return nil })
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDocumentConcurrentUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	doc := NewDocument(path, func() map[string]int { return map[string]int{} })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = doc.Update(func(m *map[string]int) error {
				(*m)["n"]++
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := doc.Read()
	require.NoError(t, err)
	assert.Equal(t, 20, got["n"])
}

func TestReplaceFileWaitsForDocumentUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	doc := NewDocument(path, func() map[string]int { return map[string]int{} })

	entered, release := make(chan struct{}), make(chan struct{})
	updated := make(chan error, 1)
	go func() {
		updated <- doc.Update(func(m *map[string]int) error {
			close(entered)
			<-release
			(*m)["n"] = 1
			return nil
		})
	}()
	<-entered

	var replaced atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- ReplaceFile(path, []byte(`{"n":100}`), 0o600)
		replaced.Store(true)
	}()
	assert.Never(t, replaced.Load, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-updated)
	require.NoError(t, <-done)

	got, err := doc.Read()
	require.NoError(t, err)
	assert.Equal(t, 100, got["n"], "the replacement lands after the update, not inside it")
}

func TestDocumentsOnSamePathShareLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	a := NewDocument(path, func() map[string]int { return map[string]int{} })
	b := NewDocument(filepath.Join(filepath.Dir(path), ".", "counter.json"), func() map[string]int { return map[string]int{} })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		doc := a
		if i%2 == 1 {
			doc = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = doc.Update(func(m *map[string]int) error {
				(*m)["n"]++
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := a.Read()
	require.NoError(t, err)
	assert.Equal(t, 20, got["n"])
}
