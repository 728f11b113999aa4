package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// hashChunkSize bounds the read buffer used while hashing
const hashChunkSize = 32 * 1024

// ErrUnitUnavailable reports a source file that vanished or cannot be read
var ErrUnitUnavailable = errors.New("unit unavailable")

// HashFile creates a hash of a file's content, streaming it in fixed chunks
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute returns the current fingerprint of path
func Compute(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, unavailable(path, err)
	}

	hash, err := HashFile(path)
	if err != nil {
		return Fingerprint{}, unavailable(path, err)
	}

	return Fingerprint{
		ModTime: info.ModTime().UnixNano(),
		Hash:    hash,
	}, nil
}

// IsStale reports whether path must be recompiled. The modification time is
// a fast pre-filter; the content hash decides.
func IsStale(path string, m *Mapping, cachingEnabled bool) bool {
	if !cachingEnabled {
		return true
	}

	info, err := os.Stat(path)
	if err != nil {
		return true
	}

	cached, ok := m.Get(path)
	if !ok {
		return true
	}

	if cached.ModTime != info.ModTime().UnixNano() {
		return true
	}

	hash, err := HashFile(path)
	if err != nil {
		return true
	}

	return hash != cached.Hash
}

// Record stores the current fingerprint of path into m
func Record(path string, m *Mapping) error {
	fp, err := Compute(path)
	if err != nil {
		return err
	}

	m.Set(path, fp)

	return nil
}

func unavailable(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: file no longer exists", ErrUnitUnavailable, path)
	}

	return fmt.Errorf("%w: %s: %v", ErrUnitUnavailable, path, err)
}
