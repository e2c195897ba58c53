package pipeline

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"
	"github.com/awnumar/memguard"
)

const maxScryptWorkFactor = 22

// Cipher holds the artifact passphrase in locked memory and produces age
// scrypt streams from it. Each Encrypt call draws a fresh file key and nonce.
type Cipher struct {
	mu         sync.Mutex
	passphrase *memguard.LockedBuffer
	workFactor int
}

// NewCipher takes ownership of passphrase; the caller's slice is wiped.
// workFactor <= 0 keeps the age default.
func NewCipher(passphrase []byte, workFactor int) (*Cipher, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("encryption passphrase cannot be empty")
	}
	if workFactor > maxScryptWorkFactor {
		return nil, fmt.Errorf("scrypt work factor %d exceeds %d", workFactor, maxScryptWorkFactor)
	}
	return &Cipher{
		passphrase: memguard.NewBufferFromBytes(passphrase),
		workFactor: workFactor,
	}, nil
}

func (c *Cipher) encryptWriter(w io.Writer) (io.WriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.passphrase.IsAlive() {
		return nil, errors.New("cipher has been destroyed")
	}
	recipient, err := age.NewScryptRecipient(c.passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}
	if c.workFactor > 0 {
		recipient.SetWorkFactor(c.workFactor)
	}

	wc, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to start encryption: %w", err)
	}
	return wc, nil
}

func (c *Cipher) decryptReader(r io.Reader) (io.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.passphrase.IsAlive() {
		return nil, errors.New("cipher has been destroyed")
	}
	identity, err := age.NewScryptIdentity(c.passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	identity.SetMaxWorkFactor(maxScryptWorkFactor)

	plain, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted stream: %w", err)
	}
	return plain, nil
}

// Destroy wipes the passphrase.
func (c *Cipher) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passphrase.Destroy()
}
