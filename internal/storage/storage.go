// Package storage keeps uploaded timetable archives on disk and extracts them for import.
package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrEmptyUpload is returned for an upload without content
	ErrEmptyUpload = errors.New("failed to store empty file")
	// ErrInvalidFilename is returned when the upload name is missing or points outside the upload root
	ErrInvalidFilename = errors.New("filename is not valid")
	// ErrInvalidArchive is returned when the upload is not a readable zip archive
	ErrInvalidArchive = errors.New("upload is not a valid zip archive")
)

// Storage stores uploads below a root directory
type Storage struct {
	root string
}

// New creates a Storage rooted at root
func New(root string) *Storage {
	return &Storage{root: root}
}

// Root returns the absolute upload directory
func (s *Storage) Root() string {
	abs, err := filepath.Abs(s.root)
	if err != nil {
		return s.root
	}
	return abs
}

// Init creates the upload directory
func (s *Storage) Init() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("could not initialize storage: %w", err)
	}
	return nil
}

// DeleteAll removes the upload directory and everything in it
func (s *Storage) DeleteAll() error {
	return os.RemoveAll(s.root)
}

// Store saves the archive read from r as filename below the root and extracts
// it into a directory named like the archive without its .zip extension.
// It returns the absolute path of that directory.
func (s *Storage) Store(filename string, r io.Reader) (string, error) {
	dest, err := s.destination(filename)
	if err != nil {
		return "", err
	}
	if err := s.Init(); err != nil {
		return "", err
	}

	// Partial uploads stay under a temporary name
	tmp := filepath.Join(filepath.Dir(dest), ".upload-"+uuid.NewString())
	n, err := writeFile(tmp, r)
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	if n == 0 {
		os.Remove(tmp)
		return "", ErrEmptyUpload
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	dir := strings.TrimSuffix(dest, filepath.Ext(dest))
	if dir == dest {
		dir = dest + "_files"
	}
	// Files of an earlier upload under the same name must not be imported again
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := extractZip(dest, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// destination resolves filename below the root, rejecting anything that
// would land outside of it
func (s *Storage) destination(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", ErrInvalidFilename
	}

	root := s.Root()
	dest := filepath.Clean(filepath.Join(root, name))
	if filepath.Dir(dest) != root {
		return "", fmt.Errorf("%w: cannot store file outside current directory", ErrInvalidFilename)
	}
	if strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest)) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return dest, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// extractZip writes the archive's files flat into destDir; folders inside the
// archive are dropped so feeds zipped with an enclosing folder import the same
func extractZip(zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory to contain extracted files: %w", err)
	}

	for _, file := range reader.File {
		// Skip directories
		if file.FileInfo().IsDir() {
			continue
		}

		name := filepath.Base(filepath.FromSlash(file.Name))
		if name == "." || name == ".." || strings.HasPrefix(name, "._") {
			log.Printf("Warning: skipping archive entry %s", file.Name)
			continue
		}

		if err := extractFile(file, filepath.Join(destDir, name)); err != nil {
			return fmt.Errorf("failed to extract %s: %w", file.Name, err)
		}
	}

	return nil
}

func extractFile(file *zip.File, destPath string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = writeFile(destPath, rc)
	return err
}
