package skynet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// File pairs an upload name with the bytes to send. The caller owns Content;
// an upload reads it once and never closes it.
type File struct {
	Name    string
	Content io.Reader
}

// NewFile creates a File named name that reads from r.
func NewFile(name string, r io.Reader) File {
	return File{Name: name, Content: r}
}

// OpenFile opens the file at path for upload under its base name. The
// returned closer releases the underlying file and must be called by the
// caller once the upload is done.
func OpenFile(path string) (File, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return File{}, nil, err
	}
	if info.IsDir() {
		f.Close()
		return File{}, nil, fmt.Errorf("%s is a directory", path)
	}

	return File{Name: filepath.Base(path), Content: f}, f, nil
}

func (f File) validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return &InputError{Field: "name", Err: errors.New("name is required")}
	}
	if strings.Trim(f.Name, "/") == "" {
		return &InputError{Field: "name", Err: errors.New("name has no file component")}
	}
	// Names end up in a part header.
	if strings.ContainsFunc(f.Name, unicode.IsControl) {
		return &InputError{Field: "name", Err: errors.New("name contains control characters")}
	}
	if f.Content == nil {
		return &InputError{Field: "content", Err: errors.New("content is required")}
	}
	return nil
}

// rewind seeks seekable content back to its start so a File reused after a
// failed attempt is sent whole.
func (f File) rewind() error {
	seeker, ok := f.Content.(io.Seeker)
	if !ok {
		return nil
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return &InputError{Field: "content", Err: fmt.Errorf("rewinding: %w", err)}
	}
	return nil
}
