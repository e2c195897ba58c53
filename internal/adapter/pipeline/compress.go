package pipeline

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const DefaultCompressionLevel = gzip.DefaultCompression

func newCompressWriter(w io.Writer, level int) (io.WriteCloser, error) {
	gz, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return gz, nil
}

func newDecompressReader(r io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return gz, nil
}
