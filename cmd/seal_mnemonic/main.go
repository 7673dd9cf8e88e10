// Seals a BIP-39 mnemonic with the master password and stores it in the address book.
// Usage: go run ./cmd/seal_mnemonic [-book data/wallet.json] [-force]
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/AlexZinkM/paygate/internal/config"
	"github.com/AlexZinkM/paygate/internal/crypto"
	"github.com/AlexZinkM/paygate/internal/wallet"
)

func main() {
	defaultBook := "data/wallet.json"
	if cfg, err := config.Load(); err == nil {
		defaultBook = cfg.AddressBookPath()
	}
	bookPath := flag.String("book", defaultBook, "address book file")
	force := flag.Bool("force", false, "replace an existing sealed mnemonic")
	flag.Parse()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "stdin must be a terminal")
		os.Exit(1)
	}

	mnemonic, err := readSecret("Mnemonic: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer clear(mnemonic)
	mnemonic = bytes.Join(bytes.Fields(mnemonic), []byte(" "))
	if _, err := crypto.MnemonicToSeed(mnemonic, ""); err != nil {
		fmt.Fprintln(os.Stderr, "invalid mnemonic:", err)
		os.Exit(1)
	}

	password, err := readSecret("Master password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer clear(password)
	again, err := readSecret("Repeat password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	match := bytes.Equal(password, again)
	clear(again)
	if !match {
		fmt.Fprintln(os.Stderr, "passwords do not match")
		os.Exit(1)
	}

	sealed, err := crypto.SealMnemonic(mnemonic, password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seal failed:", err)
		os.Exit(1)
	}
	opened, err := crypto.OpenMnemonic(sealed, password)
	if err != nil || !bytes.Equal(opened, mnemonic) {
		fmt.Fprintln(os.Stderr, "sealed mnemonic did not round-trip")
		os.Exit(1)
	}
	clear(opened)

	if err := wallet.NewAddressBook(*bookPath).SetSealedMnemonic(sealed, *force); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "mnemonic sealed into", *bookPath)
}

func readSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return b, nil
}
