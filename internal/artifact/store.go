package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nmoretto/shipdeck/pkg/file"
)

// ErrNotFound is returned when a ref does not resolve to a stored artifact.
var ErrNotFound = errors.New("artifact not found")

// RoleInput and RoleOutput partition a job's directory so the sweep can
// report and delete per job, not per file.
const (
	RoleInput  = "input"
	RoleOutput = "output"
)

// Store keeps job artifacts on local disk, one directory per job:
// <root>/<jobID>/<role>/<name>. Refs are paths relative to the root so
// database rows stay valid when the data directory moves.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Put streams r into the store and returns the artifact ref. The name is
// sanitized; an existing artifact at the same ref is overwritten.
func (s *Store) Put(jobID, role, name string, r io.Reader) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", fmt.Errorf("job id is required")
	}
	if role != RoleInput && role != RoleOutput {
		return "", fmt.Errorf("unknown artifact role %q", role)
	}
	ref := filepath.ToSlash(filepath.Join(jobID, role, file.SafeBaseName(name)))
	dst, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return ref, nil
}

// Path resolves a ref to an absolute path, verifying the artifact exists.
func (s *Store) Path(ref string) (string, error) {
	dst, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	return dst, nil
}

// Open returns the artifact for reading; the caller closes it.
func (s *Store) Open(ref string) (*os.File, error) {
	dst, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(dst)
}

// Get reads the whole artifact into memory. Callers that can stream should
// prefer Open.
func (s *Store) Get(ref string) ([]byte, error) {
	dst, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(dst)
}

// Delete removes a single artifact. Deleting a missing ref is not an error.
func (s *Store) Delete(ref string) error {
	dst, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteJob removes everything stored for a job.
func (s *Store) DeleteJob(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job id is required")
	}
	dst, err := s.resolve(jobID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dst)
}

// TotalSize reports the bytes used by all stored artifacts.
func (s *Store) TotalSize() (int64, error) {
	return file.DirSize(s.root)
}

// resolve joins ref onto the root and rejects anything that escapes it.
func (s *Store) resolve(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", ErrNotFound
	}
	dst := filepath.Join(s.root, filepath.FromSlash(ref))
	rel, err := filepath.Rel(s.root, dst)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("ref %q escapes the artifact root", ref)
	}
	return dst, nil
}
