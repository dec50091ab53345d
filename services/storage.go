package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StagedFile is an upload written to scoped temporary storage. The caller owns it
// and must call Release.
type StagedFile struct {
	path string
	once sync.Once
	err  error
}

// StageTemporary writes data to a uniquely named file in dir. An empty dir means
// os.TempDir. Write failures are not retried.
func StageTemporary(dir string, data []byte, suffix string) (*StagedFile, error) {
	f, err := os.CreateTemp(dir, "upload-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return &StagedFile{path: path}, nil
}

func (s *StagedFile) Path() string {
	return s.path
}

// Release removes the file. It is idempotent and a file that is already gone is not an error.
func (s *StagedFile) Release() error {
	s.once.Do(func() {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.err = err
		}
	})
	return s.err
}
