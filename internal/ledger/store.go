// Package ledger persists payment and release transactions as a JSON array with
// idempotent, identity-resolved upserts.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AlexZinkM/paygate/internal/common"
	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/storage"
)

// ErrEntryNotFound is returned by Update when no entry matches the key.
var ErrEntryNotFound = errors.New("ledger entry not found")

// Backuper captures a copy of a damaged file before it is reset.
type Backuper interface {
	Capture(path string, reason model.BackupReason) (*model.BackupRecord, error)
}

// Key identifies an entry. Fields are tried in order: TxHash, TxID, then
// (Address, Timestamp); the first populated field that matches wins.
type Key struct {
	TxHash    string
	TxID      string
	Address   string
	Timestamp time.Time
}

// KeyOf returns the identity key of an entry.
func KeyOf(e model.LedgerEntry) Key {
	return Key{TxHash: e.TxHash, TxID: e.TxID, Address: e.To, Timestamp: e.Timestamp}
}

// Patch holds the fields to merge into an entry. Nil fields are left unchanged.
type Patch struct {
	TxHash      *string
	From        *string
	To          *string
	Amount      *string
	CryptoType  *model.CryptoType
	Status      *model.EntryStatus
	Type        *model.EntryType
	Note        string
	GasUsed     *uint64
	BlockNumber *uint64
	OrderID     *string
	Nonce       *uint64
	GasPrice    *string
}

// Store is the single writer of the ledger file.
type Store struct {
	doc *storage.Document[[]model.LedgerEntry]
	log *slog.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New opens the ledger at path. Unreadable content is handed to backups before the
// ledger is reset to an empty array.
func New(path string, backups Backuper, opts ...Option) *Store {
	s := &Store{log: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.doc = storage.NewDocument(path, func() []model.LedgerEntry { return []model.LedgerEntry{} },
		storage.WithResetOnCorrupt[[]model.LedgerEntry](func(p string, cause error) error {
			if backups == nil {
				return fmt.Errorf("no backup manager configured: %w", cause)
			}
			rec, err := backups.Capture(p, model.BackupCorrupted)
			if err != nil {
				return err
			}
			s.log.Error("ledger unreadable, reset to empty after backup",
				logging.Flagged(), "file", p, "cause", cause.Error(), "backup", rec.FileName)
			return nil
		}))
	return s
}

// Path returns the ledger file path.
func (s *Store) Path() string { return s.doc.Path() }

// All returns every entry in insertion order.
func (s *Store) All() ([]model.LedgerEntry, error) {
	entries, err := s.doc.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, nil
}

// Append stores entry, merging it into an existing entry with the same identity.
// Appending the same entry twice yields one logical entry.
func (s *Store) Append(entry model.LedgerEntry) (model.LedgerEntry, error) {
	var out model.LedgerEntry
	err := s.doc.Update(func(entries *[]model.LedgerEntry) error {
		now := s.now().UTC()
		if i := find(*entries, KeyOf(entry)); i >= 0 {
			merge(&(*entries)[i], patchFrom(entry), now)
			out = (*entries)[i]
			return nil
		}
		if entry.TxID == "" {
			entry.TxID = uuid.NewString()
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = now
		}
		if entry.Status == "" {
			entry.Status = model.EntryPending
		}
		entry.StatusHistory = []model.StatusChange{{Status: entry.Status, Timestamp: now}}
		*entries = append(*entries, entry)
		out = entry
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return out, nil
}

// Upsert merges patch into the entry matching key, creating the entry when none matches.
func (s *Store) Upsert(key Key, patch Patch) (model.LedgerEntry, error) {
	var out model.LedgerEntry
	err := s.doc.Update(func(entries *[]model.LedgerEntry) error {
		now := s.now().UTC()
		if i := find(*entries, key); i >= 0 {
			merge(&(*entries)[i], patch, now)
			out = (*entries)[i]
			return nil
		}
		entry := model.LedgerEntry{
			TxID:      key.TxID,
			TxHash:    key.TxHash,
			To:        key.Address,
			Timestamp: key.Timestamp,
			Status:    model.EntryPending,
		}
		if entry.TxID == "" {
			entry.TxID = uuid.NewString()
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = now
		}
		merge(&entry, patch, now)
		if len(entry.StatusHistory) == 0 {
			entry.StatusHistory = []model.StatusChange{{Status: entry.Status, Timestamp: now, Note: patch.Note}}
		}
		*entries = append(*entries, entry)
		out = entry
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("failed to upsert ledger entry: %w", err)
	}
	return out, nil
}

// Update merges patch into the entry matching key and fails with ErrEntryNotFound
// when there is none.
func (s *Store) Update(key Key, patch Patch) (model.LedgerEntry, error) {
	var out model.LedgerEntry
	err := s.doc.Update(func(entries *[]model.LedgerEntry) error {
		i := find(*entries, key)
		if i < 0 {
			return ErrEntryNotFound
		}
		merge(&(*entries)[i], patch, s.now().UTC())
		out = (*entries)[i]
		return nil
	})
	return out, err
}

// FindPendingRelease returns the newest pending release from -> to, if any.
func (s *Store) FindPendingRelease(from, to string) (*model.LedgerEntry, error) {
	entries, err := s.All()
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Type == model.EntryRelease && e.Status == model.EntryPending &&
			sameAddress(e.From, from) && sameAddress(e.To, to) {
			return &e, nil
		}
	}
	return nil, nil
}

// MarkReleased moves confirmed payments received at address to the release status.
func (s *Store) MarkReleased(address, releaseHash string) (int, error) {
	count := 0
	err := s.doc.Update(func(entries *[]model.LedgerEntry) error {
		now := s.now().UTC()
		status := model.EntryReleased
		for i := range *entries {
			e := &(*entries)[i]
			if e.Type == model.EntryPayment && e.Status == model.EntryConfirmed && sameAddress(e.To, address) {
				merge(e, Patch{Status: &status, Note: releaseHash}, now)
				count++
			}
		}
		return nil
	})
	return count, err
}

// Filter returns entries matching the filter, newest first.
func Filter(entries []model.LedgerEntry, f model.TransactionFilter) []model.LedgerEntry {
	out := make([]model.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if f.Type != nil && e.Type != *f.Type {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.TxID != nil && e.TxID != *f.TxID && e.TxHash != *f.TxID {
			continue
		}
		if f.Address != nil && !sameAddress(e.From, *f.Address) && !sameAddress(e.To, *f.Address) {
			continue
		}
		if f.CryptoType != nil && e.CryptoType != *f.CryptoType {
			continue
		}
		if f.From != nil && e.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Timestamp.After(*f.To) {
			continue
		}
		if f.MinAmount != nil && compare(e.Amount, *f.MinAmount) < 0 {
			continue
		}
		if f.MaxAmount != nil && compare(e.Amount, *f.MaxAmount) > 0 {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func find(entries []model.LedgerEntry, key Key) int {
	if key.TxHash != "" {
		for i := range entries {
			if strings.EqualFold(entries[i].TxHash, key.TxHash) {
				return i
			}
		}
	}
	if key.TxID != "" {
		for i := range entries {
			if entries[i].TxID == key.TxID {
				return i
			}
		}
	}
	if key.Address != "" && !key.Timestamp.IsZero() {
		for i := range entries {
			if sameAddress(entries[i].To, key.Address) && entries[i].Timestamp.Equal(key.Timestamp) {
				return i
			}
		}
	}
	return -1
}

// merge applies patch and records a history element only when the status changes.
func merge(e *model.LedgerEntry, p Patch, now time.Time) {
	if p.TxHash != nil && *p.TxHash != "" {
		e.TxHash = *p.TxHash
	}
	if p.From != nil && *p.From != "" {
		e.From = *p.From
	}
	if p.To != nil && *p.To != "" {
		e.To = *p.To
	}
	if p.Amount != nil && *p.Amount != "" {
		e.Amount = *p.Amount
	}
	if p.CryptoType != nil && *p.CryptoType != "" {
		e.CryptoType = *p.CryptoType
	}
	if p.Type != nil && *p.Type != "" {
		e.Type = *p.Type
	}
	if p.GasUsed != nil {
		e.GasUsed = *p.GasUsed
	}
	if p.BlockNumber != nil {
		e.BlockNumber = *p.BlockNumber
	}
	if p.OrderID != nil && *p.OrderID != "" {
		e.OrderID = *p.OrderID
	}
	if p.Nonce != nil {
		n := *p.Nonce
		e.Nonce = &n
	}
	if p.GasPrice != nil && *p.GasPrice != "" {
		e.GasPrice = *p.GasPrice
	}
	if p.Status != nil && *p.Status != "" && *p.Status != e.Status {
		e.Status = *p.Status
		e.StatusHistory = append(e.StatusHistory, model.StatusChange{Status: e.Status, Timestamp: now, Note: p.Note})
	}
}

func patchFrom(e model.LedgerEntry) Patch {
	p := Patch{
		TxHash:     &e.TxHash,
		From:       &e.From,
		To:         &e.To,
		Amount:     &e.Amount,
		CryptoType: &e.CryptoType,
		Status:     &e.Status,
		Type:       &e.Type,
		OrderID:    &e.OrderID,
		Nonce:      e.Nonce,
		GasPrice:   &e.GasPrice,
	}
	if e.GasUsed != 0 {
		p.GasUsed = &e.GasUsed
	}
	if e.BlockNumber != 0 {
		p.BlockNumber = &e.BlockNumber
	}
	return p
}

func sameAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func compare(a, b string) int {
	cmp, err := common.CompareAmounts(a, b)
	if err != nil {
		return 0
	}
	return cmp
}
