// Package integrity verifies the cryptographic integrity of a downloaded
// package archive: a SHA-256 content checksum, and an OpenPGP detached
// signature checked against a directory of trusted public keys.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/openpgp"
)

// VerifyChecksum computes the SHA-256 digest of the file at path and
// compares it, case-insensitively, against expectedHex.
func VerifyChecksum(path string, expectedHex string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("integrity: opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("integrity: hashing %s: %w", path, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	return strings.EqualFold(got, expectedHex), nil
}

// VerifySignature checks dataPath's detached signature at signaturePath
// against every public key found in keyringDir (every *.asc and *.gpg
// file). It is valid iff the signature is cryptographically correct AND
// signed by a key present in that keyring — openpgp.CheckDetachedSignature
// already requires both, so there is no separate "trusted" check to layer
// on top.
func VerifySignature(dataPath, signaturePath, keyringDir string) (bool, error) {
	keyring, err := loadKeyring(keyringDir)
	if err != nil {
		return false, err
	}
	if len(keyring) == 0 {
		return false, fmt.Errorf("integrity: no public keys found in %s", keyringDir)
	}

	data, err := os.Open(dataPath)
	if err != nil {
		return false, fmt.Errorf("integrity: opening %s: %w", dataPath, err)
	}
	defer data.Close()

	sig, err := os.Open(signaturePath)
	if err != nil {
		return false, fmt.Errorf("integrity: opening %s: %w", signaturePath, err)
	}
	defer sig.Close()

	_, err = openpgp.CheckDetachedSignature(keyring, data, sig)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func loadKeyring(keyringDir string) (openpgp.EntityList, error) {
	entries, err := os.ReadDir(keyringDir)
	if err != nil {
		return nil, fmt.Errorf("integrity: reading keyring directory %s: %w", keyringDir, err)
	}

	var keyring openpgp.EntityList
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".asc" && ext != ".gpg" {
			continue
		}

		path := filepath.Join(keyringDir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("integrity: opening key %s: %w", path, err)
		}

		var entities openpgp.EntityList
		if ext == ".asc" {
			entities, err = openpgp.ReadArmoredKeyRing(f)
		} else {
			entities, err = openpgp.ReadKeyRing(f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("integrity: parsing key %s: %w", path, err)
		}

		keyring = append(keyring, entities...)
	}

	return keyring, nil
}
