package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/semmidev/markavault/internal/domain"
)

// Options selects the optional stages for Encode.
type Options struct {
	Compress bool
	Encrypt  bool
}

// Pipeline composes archive -> compress -> encrypt on the way out and the
// inverse on the way in, one streaming pass each way.
type Pipeline struct {
	cipher *Cipher
	level  int
	now    func() time.Time
}

// New builds a pipeline. cipher may be nil when encryption is never used.
func New(cipher *Cipher, compressionLevel int) *Pipeline {
	return &Pipeline{
		cipher: cipher,
		level:  compressionLevel,
		now:    time.Now,
	}
}

// writerChain closes its stages innermost first.
type writerChain struct {
	closers []io.Closer
}

func (c *writerChain) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// Encode writes one artifact for entries to dst. On error dst holds partial
// output and the caller is responsible for discarding it.
func (p *Pipeline) Encode(dst io.Writer, entries []Entry, opts Options) (manifest *domain.Manifest, err error) {
	if opts.Encrypt && p.cipher == nil {
		return nil, fmt.Errorf("encrypt: %w", ErrMissingKey)
	}

	if _, err := dst.Write(encodeHeader(opts.Compress, opts.Encrypt)); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	chain := &writerChain{}
	defer func() {
		if closeErr := chain.Close(); err == nil && closeErr != nil {
			manifest, err = nil, fmt.Errorf("flush: %w", closeErr)
		}
	}()

	var w io.Writer = dst
	if opts.Encrypt {
		ew, err := p.cipher.encryptWriter(w)
		if err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		chain.closers = append(chain.closers, ew)
		w = ew
	}
	if opts.Compress {
		cw, err := newCompressWriter(w, p.level)
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		chain.closers = append(chain.closers, cw)
		w = cw
	}

	manifest, err = WriteArchive(w, entries, p.now())
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return manifest, nil
}

// Decoded is what Decode found and unpacked.
type Decoded struct {
	Format   Format
	Manifest *domain.Manifest
	Files    []string
}

// Decode detects the payload format, then decrypts, decompresses and
// unpacks into destDir. Unrecognized input fails with ErrInvalidArtifact,
// anything that breaks after detection with ErrCorruptPayload. destDir is
// left as is on failure.
func (p *Pipeline) Decode(src io.Reader, destDir string) (*Decoded, error) {
	br := bufio.NewReaderSize(src, 64*1024)
	format, err := Detect(br)
	if err != nil {
		return nil, domain.NewOpError(domain.ErrInvalidArtifact, "detect", err)
	}
	if format.Enveloped {
		if _, err := br.Discard(HeaderSize); err != nil {
			return nil, domain.NewOpError(domain.ErrInvalidArtifact, "detect", err)
		}
	}

	var r io.Reader = br
	if format.Encrypted {
		if p.cipher == nil {
			return nil, domain.NewOpError(domain.ErrInvalidArtifact, "decrypt", ErrMissingKey)
		}
		plain, err := p.cipher.decryptReader(r)
		if err != nil {
			return nil, domain.NewOpError(domain.ErrCorruptPayload, "decrypt", err)
		}
		r = &stageReader{r: plain, stage: "decrypt"}
	}
	if format.Compressed {
		gz, err := newDecompressReader(r)
		if err != nil {
			return nil, domain.NewOpError(domain.ErrCorruptPayload, stageFor(err, "decompress"), err)
		}
		defer gz.Close()
		r = &stageReader{r: gz, stage: "decompress"}
	}

	manifest, files, err := ExtractArchive(r, destDir)
	if err != nil {
		return nil, domain.NewOpError(domain.ErrCorruptPayload, stageFor(err, "unarchive"), err)
	}
	// Authentication tags and the gzip trailer are only checked at the end
	// of the stream.
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, domain.NewOpError(domain.ErrCorruptPayload, stageFor(err, "unarchive"), err)
	}

	if manifest == nil && format.Enveloped {
		return nil, domain.NewOpError(domain.ErrCorruptPayload, "unarchive", ErrManifestAbsent)
	}
	if len(files) == 0 {
		return nil, domain.NewOpError(domain.ErrCorruptPayload, "unarchive", errors.New("archive holds no data files"))
	}

	return &Decoded{Format: format, Manifest: manifest, Files: files}, nil
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// stageReader tags read errors with the stage that produced them so a
// failure deep in the chain is reported against the right stage.
type stageReader struct {
	r     io.Reader
	stage string
}

func (s *stageReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		var se *stageError
		if !errors.As(err, &se) {
			err = &stageError{stage: s.stage, err: err}
		}
	}
	return n, err
}

func stageFor(err error, fallback string) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return fallback
}
