package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateName = errors.New("zip: duplicate file name")
	ErrFinalized     = errors.New("zip: archive already finalized")
)

// Archive collects files in memory and produces a single zip payload.
// It is not safe for concurrent use.
type Archive struct {
	buf       *bytes.Buffer
	zw        *zip.Writer
	names     map[string]struct{}
	modified  time.Time
	finalized bool
}

// NewArchive creates an empty archive. Entries are stamped with modified.
func NewArchive(modified time.Time) *Archive {
	buf := &bytes.Buffer{}
	return &Archive{
		buf:      buf,
		zw:       zip.NewWriter(buf),
		names:    make(map[string]struct{}),
		modified: modified,
	}
}

// AddFile appends one entry. Names must be unique within the archive.
func (a *Archive) AddFile(name string, data []byte) error {
	if a.finalized {
		return ErrFinalized
	}
	if name == "" {
		return errors.New("zip: file name is required")
	}
	if _, ok := a.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: a.modified,
	})
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("zip: write %s: %w", name, err)
	}
	a.names[name] = struct{}{}
	return nil
}

// Len returns the number of entries added so far.
func (a *Archive) Len() int {
	return len(a.names)
}

// Finalize closes the archive and returns its bytes.
func (a *Archive) Finalize() ([]byte, error) {
	if a.finalized {
		return nil, ErrFinalized
	}
	a.finalized = true
	if err := a.zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return a.buf.Bytes(), nil
}
