package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/storage"
)

// ErrAddressNotFound is returned when an address is not in the address book.
var ErrAddressNotFound = errors.New("payment address not found")

// AddressBook persists the sealed mnemonic and every allocated payment address.
// A damaged address book is never reset automatically: it holds the only copy of
// the mnemonic, so errors are surfaced for the operator to restore from backup.
type AddressBook struct {
	doc *storage.Document[model.AddressBook]
}

// NewAddressBook binds the address book to path.
func NewAddressBook(path string) *AddressBook {
	return &AddressBook{doc: storage.NewDocument(path, emptyBook)}
}

func emptyBook() model.AddressBook {
	return model.AddressBook{ActiveAddresses: map[string]*model.PaymentAddress{}}
}

// Path returns the address book file path.
func (b *AddressBook) Path() string { return b.doc.Path() }

// SealedMnemonic returns the encrypted mnemonic.
func (b *AddressBook) SealedMnemonic() (string, error) {
	book, err := b.doc.Read()
	if err != nil {
		return "", fmt.Errorf("failed to read address book: %w", err)
	}
	return book.Mnemonic, nil
}

// SetSealedMnemonic stores the encrypted mnemonic. An existing one is only replaced
// when force is set.
func (b *AddressBook) SetSealedMnemonic(sealed string, force bool) error {
	return b.doc.Update(func(book *model.AddressBook) error {
		if book.Mnemonic != "" && !force {
			return errors.New("address book already holds a mnemonic")
		}
		book.Mnemonic = sealed
		ensureMap(book)
		return nil
	})
}

// Get returns the payment address record.
func (b *AddressBook) Get(address string) (*model.PaymentAddress, error) {
	book, err := b.doc.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read address book: %w", err)
	}
	pa, ok := book.ActiveAddresses[Normalize(address)]
	if !ok || pa == nil {
		return nil, ErrAddressNotFound
	}
	return pa, nil
}

// All returns every payment address.
func (b *AddressBook) All() ([]*model.PaymentAddress, error) {
	book, err := b.doc.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read address book: %w", err)
	}
	out := make([]*model.PaymentAddress, 0, len(book.ActiveAddresses))
	for _, pa := range book.ActiveAddresses {
		if pa != nil {
			out = append(out, pa)
		}
	}
	return out, nil
}

// Put inserts or replaces a payment address.
func (b *AddressBook) Put(pa *model.PaymentAddress) error {
	return b.doc.Update(func(book *model.AddressBook) error {
		ensureMap(book)
		book.ActiveAddresses[Normalize(pa.Address)] = pa
		return nil
	})
}

// Update applies fn to the record for address under the address book lock.
func (b *AddressBook) Update(address string, fn func(pa *model.PaymentAddress) error) (*model.PaymentAddress, error) {
	var out *model.PaymentAddress
	err := b.doc.Update(func(book *model.AddressBook) error {
		pa, ok := book.ActiveAddresses[Normalize(address)]
		if !ok || pa == nil {
			return ErrAddressNotFound
		}
		if err := fn(pa); err != nil {
			return err
		}
		out = pa
		return nil
	})
	return out, err
}

// UpdateAll applies fn to every record and returns how many it changed.
func (b *AddressBook) UpdateAll(fn func(pa *model.PaymentAddress) bool) (int, error) {
	changed := 0
	err := b.doc.Update(func(book *model.AddressBook) error {
		for _, pa := range book.ActiveAddresses {
			if pa != nil && fn(pa) {
				changed++
			}
		}
		return nil
	})
	return changed, err
}

// Remove deletes address from the book.
func (b *AddressBook) Remove(address string) (*model.PaymentAddress, error) {
	var removed *model.PaymentAddress
	err := b.doc.Update(func(book *model.AddressBook) error {
		key := Normalize(address)
		pa, ok := book.ActiveAddresses[key]
		if !ok {
			return ErrAddressNotFound
		}
		removed = pa
		delete(book.ActiveAddresses, key)
		return nil
	})
	return removed, err
}

// MaxIndex returns the highest derivation index recorded for crypto, and false when
// none is recorded.
func (b *AddressBook) MaxIndex(crypto model.CryptoType) (uint32, bool, error) {
	all, err := b.All()
	if err != nil {
		return 0, false, err
	}
	var (
		highest uint32
		found   bool
	)
	for _, pa := range all {
		if pa.CryptoType != crypto {
			continue
		}
		if !found || pa.DerivationIndex > highest {
			highest, found = pa.DerivationIndex, true
		}
	}
	return highest, found, nil
}

// Normalize lowercases hex addresses; base58 addresses are case-sensitive.
func Normalize(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}

func ensureMap(book *model.AddressBook) {
	if book.ActiveAddresses == nil {
		book.ActiveAddresses = map[string]*model.PaymentAddress{}
	}
}
