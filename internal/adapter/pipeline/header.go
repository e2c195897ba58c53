package pipeline

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Envelope header written at offset 0 of every artifact:
//
//	offset 0  size 4  magic "MRKV"
//	offset 4  size 1  format version
//	offset 5  size 1  flags (bit0 compressed, bit1 encrypted)
//	offset 6  size 2  reserved, zero
//
// Encode order is fixed at archive -> compress -> encrypt for version 1.
const (
	HeaderSize    = 8
	FormatVersion = 0x01

	flagCompressed = 1 << 0
	flagEncrypted  = 1 << 1
	knownFlags     = flagCompressed | flagEncrypted
)

var envelopeMagic = []byte{'M', 'R', 'K', 'V'}

// Magic table for headerless legacy payloads.
var (
	gzipMagic      = []byte{0x1f, 0x8b}
	gzipOffset     = 0
	tarMagic       = []byte("ustar")
	tarMagicOffset = 257
)

const sniffSize = 262

var (
	ErrUnknownFormat  = errors.New("unrecognized artifact format")
	ErrUnsupported    = errors.New("unsupported envelope version")
	ErrReservedBits   = errors.New("reserved header bits set")
	ErrEmptyArtifact  = errors.New("artifact is empty")
	ErrMissingKey     = errors.New("artifact is encrypted but no passphrase is configured")
	ErrManifestAbsent = errors.New("archive has no manifest")
)

// Format is what detection found at the head of a payload.
type Format struct {
	Enveloped  bool
	Version    byte
	Compressed bool
	Encrypted  bool
}

func (f Format) String() string {
	switch {
	case !f.Enveloped && f.Compressed:
		return "legacy-gzip-tar"
	case !f.Enveloped:
		return "legacy-tar"
	}
	return fmt.Sprintf("v%d(compressed=%t,encrypted=%t)", f.Version, f.Compressed, f.Encrypted)
}

func encodeHeader(compressed, encrypted bool) []byte {
	h := make([]byte, HeaderSize)
	copy(h, envelopeMagic)
	h[4] = FormatVersion
	if compressed {
		h[5] |= flagCompressed
	}
	if encrypted {
		h[5] |= flagEncrypted
	}
	return h
}

// Detect inspects the head of br without consuming it.
func Detect(br *bufio.Reader) (Format, error) {
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Format{}, fmt.Errorf("failed to read header: %w", err)
	}
	if len(head) == 0 {
		return Format{}, ErrEmptyArtifact
	}

	if bytes.HasPrefix(head, envelopeMagic) {
		if len(head) < HeaderSize {
			return Format{}, fmt.Errorf("%w: truncated envelope header", ErrUnknownFormat)
		}
		if head[4] != FormatVersion {
			return Format{}, fmt.Errorf("%w: %d", ErrUnsupported, head[4])
		}
		if head[5]&^knownFlags != 0 || head[6] != 0 || head[7] != 0 {
			return Format{}, ErrReservedBits
		}
		return Format{
			Enveloped:  true,
			Version:    head[4],
			Compressed: head[5]&flagCompressed != 0,
			Encrypted:  head[5]&flagEncrypted != 0,
		}, nil
	}

	if hasMagicAt(head, gzipMagic, gzipOffset) {
		return Format{Compressed: true}, nil
	}
	if hasMagicAt(head, tarMagic, tarMagicOffset) {
		return Format{}, nil
	}
	return Format{}, ErrUnknownFormat
}

func hasMagicAt(head, magic []byte, offset int) bool {
	if len(head) < offset+len(magic) {
		return false
	}
	return bytes.Equal(head[offset:offset+len(magic)], magic)
}
