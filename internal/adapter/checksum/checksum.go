package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Files hashes the concatenated contents of paths, in order.
func Files(paths ...string) (string, error) {
	d := NewDigest()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("failed to open file: %w", err)
		}
		_, err = io.Copy(d, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", p, err)
		}
	}
	return d.Sum(), nil
}

// Digest is a running SHA-256 that can be fed from several writers.
type Digest struct {
	h hash.Hash
}

func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Equal compares two hex digests without caring about case.
func Equal(a, b string) bool {
	if len(a) != len(b) || a == "" {
		return false
	}
	da, errA := hex.DecodeString(a)
	db, errB := hex.DecodeString(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(da) == string(db)
}
