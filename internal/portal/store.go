package portal

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// SkylinkLen is the length of an encoded skylink ID.
	SkylinkLen = 46

	// bitfield marks a version 1 skylink covering the whole file.
	bitfield uint16 = 0
)

// ErrNotFound is returned for skylinks the store has never seen.
var ErrNotFound = errors.New("skylink not found")

// Entry describes one stored upload.
type Entry struct {
	Skylink     string `json:"skylink"`
	Merkleroot  string `json:"merkleroot"`
	Bitfield    int    `json:"bitfield"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Store is the byte storage behind the portal.
type Store interface {
	Put(ctx context.Context, filename, contentType string, r io.Reader) (Entry, error)
	Stat(ctx context.Context, skylink string) (Entry, error)
	Open(ctx context.Context, skylink string) (io.ReadCloser, Entry, error)
}

// EncodeSkylink builds the base64url skylink for a merkle root.
func EncodeSkylink(root [sha256.Size]byte) string {
	raw := make([]byte, 2+sha256.Size)
	binary.LittleEndian.PutUint16(raw, bitfield)
	copy(raw[2:], root[:])
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ValidSkylink reports whether s looks like an encoded skylink ID.
func ValidSkylink(s string) bool {
	if len(s) != SkylinkLen {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(raw) == 2+sha256.Size
}

// LocalStore keeps uploads in a content-addressed tree on disk. The merkle
// root covers the file name and the bytes, so the same bytes uploaded under
// two names get two skylinks.
type LocalStore struct {
	root string
	mu   sync.Mutex
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a store rooted at root.
func NewLocalStore(root string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("portal data directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{"blobs", "meta", "tmp"} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &LocalStore{root: abs}, nil
}

// Put streams r to disk and records it under a new skylink.
func (s *LocalStore) Put(ctx context.Context, filename, contentType string, r io.Reader) (Entry, error) {
	var zero Entry
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "put-*")
	if err != nil {
		return zero, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := sha256.New()
	h.Write([]byte(filename))
	h.Write([]byte{0})
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		cleanup()
		return zero, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return zero, err
	}

	var root [sha256.Size]byte
	copy(root[:], h.Sum(nil))

	entry := Entry{
		Skylink:     EncodeSkylink(root),
		Merkleroot:  hex.EncodeToString(root[:]),
		Bitfield:    int(bitfield),
		Filename:    filename,
		ContentType: contentType,
		Size:        n,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.blobPath(entry.Merkleroot)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		cleanup()
		return zero, err
	}
	if _, err := os.Stat(dst); err == nil {
		_ = os.Remove(tmpPath)
	} else if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return zero, err
	}

	meta, err := json.Marshal(entry)
	if err != nil {
		return zero, err
	}
	if err := os.WriteFile(s.metaPath(entry.Skylink), meta, 0o644); err != nil {
		return zero, err
	}

	return entry, nil
}

// Stat returns the entry recorded for skylink.
func (s *LocalStore) Stat(ctx context.Context, skylink string) (Entry, error) {
	var zero Entry
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !ValidSkylink(skylink) {
		return zero, ErrNotFound
	}

	data, err := os.ReadFile(s.metaPath(skylink))
	if errors.Is(err, os.ErrNotExist) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return zero, fmt.Errorf("corrupt metadata for %s: %w", skylink, err)
	}
	return entry, nil
}

// Open returns the stored bytes for skylink. The caller closes the reader.
func (s *LocalStore) Open(ctx context.Context, skylink string) (io.ReadCloser, Entry, error) {
	entry, err := s.Stat(ctx, skylink)
	if err != nil {
		return nil, Entry{}, err
	}
	f, err := os.Open(s.blobPath(entry.Merkleroot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Entry{}, ErrNotFound
	}
	if err != nil {
		return nil, Entry{}, err
	}
	return f, entry, nil
}

func (s *LocalStore) blobPath(digest string) string {
	return filepath.Join(s.root, "blobs", digest[0:2], digest[2:4], digest)
}

// metaPath expects a skylink that passed ValidSkylink.
func (s *LocalStore) metaPath(skylink string) string {
	return filepath.Join(s.root, "meta", skylink+".json")
}
