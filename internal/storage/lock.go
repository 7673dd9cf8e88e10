package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// pathLocks maps a cleaned absolute path to the mutex guarding that file. Every
// Document and every ReplaceFile caller for the same path shares one entry.
var pathLocks sync.Map

func lockFor(path string) *sync.Mutex {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	if mu, ok := pathLocks.Load(key); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := pathLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// LockFile takes the lock a Document on path uses and returns its release.
// It is not reentrant: do not call Document methods on path while holding it.
func LockFile(path string) (unlock func()) {
	mu := lockFor(path)
	mu.Lock()
	return mu.Unlock
}

// ReplaceFile writes data over path under LockFile, so the write cannot land
// inside a Document update on the same file.
func ReplaceFile(path string, data []byte, perm os.FileMode) error {
	unlock := LockFile(path)
	defer unlock()
	return WriteAtomic(path, data, perm)
}
