package model

// AddressBook is the on-disk address book: the sealed mnemonic plus every allocated address.
type AddressBook struct {
	Mnemonic        string                     `json:"mnemonic"`
	ActiveAddresses map[string]*PaymentAddress `json:"activeAddresses"`
}

// IndexMap caches address -> derivation index per chain.
type IndexMap map[CryptoType]map[string]uint32

// SealedSecret is the encrypted form of the mnemonic stored in the address book.
type SealedSecret struct {
	Version    int    `json:"v"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipherText"`
}

// DerivedWallet is a child key derived from the master seed.
type DerivedWallet struct {
	Address    string
	Index      uint32
	CryptoType CryptoType
	PrivateKey []byte // 32 bytes secp256k1 scalar for ETH, 64 bytes ed25519 key for SOL
}
