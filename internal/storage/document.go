package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	// ErrMissing reports that the document file does not exist.
	ErrMissing = errors.New("file does not exist")
	// ErrEmpty reports a file that exists but holds only whitespace.
	ErrEmpty = errors.New("file is empty")
	// ErrCorrupt reports content that does not decode into the expected shape.
	ErrCorrupt = errors.New("file is corrupted")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CorruptFunc is called with the path and cause before a damaged document is reset.
// Returning an error aborts the reset and leaves the file untouched.
type CorruptFunc func(path string, cause error) error

// Document is a JSON file treated as a single transactional value: every update reads,
// decodes, applies a change and writes the result back atomically under one lock.
// The lock belongs to the path, so ReplaceFile and other documents on the same file
// wait for it too.
type Document[T any] struct {
	path      string
	mu        *sync.Mutex
	zero      func() T
	onCorrupt CorruptFunc
	reset     bool
}

// DocumentOption configures a Document.
type DocumentOption[T any] func(*Document[T])

// WithResetOnCorrupt makes the document replace unreadable content with its zero value,
// after handing the bad file to fn.
func WithResetOnCorrupt[T any](fn CorruptFunc) DocumentOption[T] {
	return func(d *Document[T]) {
		d.reset = true
		d.onCorrupt = fn
	}
}

// NewDocument binds a document to path. zero builds the value used when the file is
// missing (and when resetting a corrupted one).
func NewDocument[T any](path string, zero func() T, opts ...DocumentOption[T]) *Document[T] {
	d := &Document[T]{path: path, mu: lockFor(path), zero: zero}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns the file path backing the document.
func (d *Document[T]) Path() string { return d.path }

// Read returns the current value.
func (d *Document[T]) Read() (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load()
}

// Update applies fn to the current value and persists the result. The file is left
// unchanged when fn returns an error.
func (d *Document[T]) Update(fn func(*T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	value, err := d.load()
	if err != nil {
		return err
	}
	if err := fn(&value); err != nil {
		return err
	}
	return d.write(value)
}

// Replace overwrites the document with value.
func (d *Document[T]) Replace(value T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(value)
}

func (d *Document[T]) load() (T, error) {
	value, err := Decode[T](d.path)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, ErrMissing):
		return d.zero(), nil
	case (errors.Is(err, ErrEmpty) || errors.Is(err, ErrCorrupt)) && d.reset:
		if d.onCorrupt != nil {
			if cbErr := d.onCorrupt(d.path, err); cbErr != nil {
				var zero T
				return zero, fmt.Errorf("failed to preserve damaged file: %w", cbErr)
			}
		}
		fresh := d.zero()
		if err := d.write(fresh); err != nil {
			return fresh, err
		}
		return fresh, nil
	default:
		var zero T
		return zero, err
	}
}

func (d *Document[T]) write(value T) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", d.path, err)
	}
	return WriteAtomic(d.path, data, 0o600)
}

// Decode reads path and decodes it into T, classifying the failure as ErrMissing,
// ErrEmpty or ErrCorrupt.
func Decode[T any](path string) (T, error) {
	var value T
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return value, ErrMissing
		}
		return value, fmt.Errorf("failed to read file: %w", err)
	}
	data = TrimBOM(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return value, ErrEmpty
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return value, nil
}

// TrimBOM strips a leading UTF-8 byte order mark.
func TrimBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}
