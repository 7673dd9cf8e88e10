package wallet

import (
	"fmt"

	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/storage"
)

// IndexMap caches address -> derivation index. It can always be rebuilt by
// re-deriving, so unreadable content is preserved through onCorrupt and reset.
type IndexMap struct {
	doc *storage.Document[model.IndexMap]
}

// NewIndexMap binds the cache to path.
func NewIndexMap(path string, onCorrupt storage.CorruptFunc) *IndexMap {
	return &IndexMap{doc: storage.NewDocument(path, func() model.IndexMap { return model.IndexMap{} },
		storage.WithResetOnCorrupt[model.IndexMap](onCorrupt))}
}

// Path returns the index map file path.
func (m *IndexMap) Path() string { return m.doc.Path() }

// Lookup returns the cached index for address.
func (m *IndexMap) Lookup(crypto model.CryptoType, address string) (uint32, bool, error) {
	idx, err := m.doc.Read()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read index map: %w", err)
	}
	i, ok := idx[crypto][Normalize(address)]
	return i, ok, nil
}

// Remember records address -> index.
func (m *IndexMap) Remember(crypto model.CryptoType, address string, index uint32) error {
	return m.doc.Update(func(idx *model.IndexMap) error {
		if *idx == nil {
			*idx = model.IndexMap{}
		}
		if (*idx)[crypto] == nil {
			(*idx)[crypto] = map[string]uint32{}
		}
		(*idx)[crypto][Normalize(address)] = index
		return nil
	})
}

// Len returns the number of cached addresses across chains.
func (m *IndexMap) Len() (int, error) {
	idx, err := m.doc.Read()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, byAddr := range idx {
		n += len(byAddr)
	}
	return n, nil
}
