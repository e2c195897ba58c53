package pipeline

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/semmidev/markavault/internal/adapter/checksum"
	"github.com/semmidev/markavault/internal/domain"
)

const ManifestName = "manifest.json"

// Entry is one file to bundle, stored under Name in the archive.
type Entry struct {
	Name string
	Path string
}

// WriteArchive streams entries into a tar and appends the manifest as the
// last member. Files are read up to the size seen at open time, so a file
// that is still being appended to yields a best-effort copy.
func WriteArchive(w io.Writer, entries []Entry, now time.Time) (*domain.Manifest, error) {
	if len(entries) == 0 {
		return nil, errors.New("nothing to archive")
	}

	tw := tar.NewWriter(w)
	manifest := &domain.Manifest{
		CreatedAt:     now.UTC(),
		SchemaVersion: domain.SchemaVersion,
	}
	content := checksum.NewDigest()

	for _, e := range entries {
		if err := validateEntryName(e.Name); err != nil {
			return nil, err
		}
		if e.Name == ManifestName {
			return nil, fmt.Errorf("archive member name %q is reserved", e.Name)
		}
		fe, err := addFile(tw, e, content)
		if err != nil {
			return nil, err
		}
		manifest.SourceFiles = append(manifest.SourceFiles, e.Name)
		manifest.Files = append(manifest.Files, fe)
	}
	manifest.ContentHash = content.Sum()

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	hdr := &tar.Header{
		Name:     ManifestName,
		Typeflag: tar.TypeReg,
		Mode:     0o600,
		Size:     int64(len(data)),
		ModTime:  now,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("failed to write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return manifest, nil
}

func addFile(tw *tar.Writer, e Entry, content io.Writer) (domain.FileEntry, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return domain.FileEntry{}, fmt.Errorf("failed to open %s: %w", e.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.FileEntry{}, fmt.Errorf("failed to stat %s: %w", e.Path, err)
	}
	if !info.Mode().IsRegular() {
		return domain.FileEntry{}, fmt.Errorf("%s is not a regular file", e.Path)
	}

	hdr := &tar.Header{
		Name:     e.Name,
		Typeflag: tar.TypeReg,
		Mode:     0o600,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return domain.FileEntry{}, fmt.Errorf("failed to write header for %s: %w", e.Name, err)
	}

	fileSum := checksum.NewDigest()
	if _, err := io.CopyN(io.MultiWriter(tw, fileSum, content), f, info.Size()); err != nil {
		return domain.FileEntry{}, fmt.Errorf("failed to copy %s into archive: %w", e.Path, err)
	}

	return domain.FileEntry{Name: e.Name, Size: info.Size(), Checksum: fileSum.Sum()}, nil
}

// ExtractArchive unpacks a tar stream into destDir. The returned manifest is
// nil when the archive carries none; the names are the data members in
// archive order.
func ExtractArchive(r io.Reader, destDir string) (*domain.Manifest, []string, error) {
	tr := tar.NewReader(r)
	var (
		manifest *domain.Manifest
		names    []string
	)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read archive entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, nil, fmt.Errorf("unexpected archive entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
		if err := validateEntryName(hdr.Name); err != nil {
			return nil, nil, err
		}

		if hdr.Name == ManifestName {
			m, err := readManifest(tr, hdr.Size)
			if err != nil {
				return nil, nil, err
			}
			manifest = m
			continue
		}

		if err := extractFile(tr, filepath.Join(destDir, hdr.Name), hdr.Size); err != nil {
			return nil, nil, fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
		names = append(names, hdr.Name)
	}

	return manifest, names, nil
}

const maxManifestSize = 1 << 20

func readManifest(r io.Reader, size int64) (*domain.Manifest, error) {
	if size > maxManifestSize {
		return nil, fmt.Errorf("manifest too large: %d bytes", size)
	}
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func extractFile(r io.Reader, destPath string, size int64) error {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, r, size); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Archive members are flat base names; anything else is rejected.
func validateEntryName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return fmt.Errorf("invalid archive member name %q", name)
	}
	return nil
}
