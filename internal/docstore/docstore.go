// Package docstore keeps uploaded documents on local disk and hands out
// opaque references to them. Text extraction is intentionally naive (the
// stored bytes are served as-is); richer PDF parsing belongs to a
// pre-processing service, not this subsystem.
package docstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure document directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the upload to disk keyed by job id and returns the document
// reference the job record carries.
func (s *Store) Save(jobID, filename string, r io.Reader) (string, error) {
	base := filepath.Base(filename)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "document.pdf"
	}
	ref := filepath.Join(s.dir, jobID+"_"+base)

	f, err := os.Create(ref)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", ref, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		_ = os.Remove(ref)
		return "", fmt.Errorf("write %s: %w", ref, err)
	}
	if n == 0 {
		_ = os.Remove(ref)
		return "", fmt.Errorf("empty document %s", base)
	}
	return ref, nil
}

// Load returns the document content for a previously saved reference.
func (s *Store) Load(ref string) (string, error) {
	b, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", ref, err)
	}
	return string(b), nil
}

// Remove deletes the stored document. Missing files are not an error so
// cleanup after a completed job is idempotent.
func (s *Store) Remove(ref string) error {
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove document %s: %w", ref, err)
	}
	return nil
}
