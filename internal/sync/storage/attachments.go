// Package storage is the local content-addressed store for note
// attachments, addressed by SHA-256 digest. Identical payloads are
// stored once.
package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AttachmentStore holds attachment payloads both as the note's local
// media copy and as the bytes queued upload operations read by digest.
// Files live at baseDir/{hash[0:2]}/{hash[2:4]}/{hash}; the two-level
// fanout keeps directories small.
type AttachmentStore struct {
	baseDir string
}

// NewAttachmentStore creates a store rooted at baseDir.
func NewAttachmentStore(baseDir string) *AttachmentStore {
	return &AttachmentStore{baseDir: baseDir}
}

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// validHash reports whether hash is a lowercase hex SHA-256 digest.
// Anything else is rejected before it can reach the filesystem, so a
// hash from an operation payload can never name a path outside baseDir.
func validHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Put stores data and returns its digest.
func (s *AttachmentStore) Put(data []byte) (string, error) {
	return s.PutReader(bytes.NewReader(data))
}

// PutFile stores the contents of the file at path and returns the
// digest. The source file is left untouched.
func (s *AttachmentStore) PutFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	return s.PutReader(f)
}

// PutReader stores everything read from r and returns the digest.
// The bytes go through a temp file and a rename, so a crash mid-write
// never leaves a partial payload behind a valid digest name.
func (s *AttachmentStore) PutReader(r io.Reader) (string, error) {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.baseDir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	digest := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, digest), r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to store attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to flush attachment: %w", err)
	}

	hash := hex.EncodeToString(digest.Sum(nil))
	dest := s.pathFor(hash)

	// Same payload stored before; keep the existing copy.
	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmpPath)
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to store attachment: %w", err)
	}

	return hash, nil
}

// Read returns the stored attachment for hash, verifying the bytes still
// match the digest before handing them to an upload.
func (s *AttachmentStore) Read(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("invalid content hash %q", hash)
	}

	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attachment not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	if got := Hash(data); got != hash {
		return nil, fmt.Errorf("digest mismatch: expected %s, got %s", hash, got)
	}

	return data, nil
}

// Path returns the filesystem path of the stored attachment for hash.
func (s *AttachmentStore) Path(hash string) (string, error) {
	if !validHash(hash) {
		return "", fmt.Errorf("invalid content hash %q", hash)
	}
	return s.pathFor(hash), nil
}

// Stat returns the size in bytes of the stored attachment for hash.
func (s *AttachmentStore) Stat(hash string) (int64, error) {
	if !validHash(hash) {
		return 0, fmt.Errorf("invalid content hash %q", hash)
	}

	info, err := os.Stat(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("attachment not found: %w", err)
		}
		return 0, fmt.Errorf("failed to stat attachment: %w", err)
	}
	return info.Size(), nil
}

// Exists reports whether a payload is stored under hash.
func (s *AttachmentStore) Exists(hash string) bool {
	if !validHash(hash) {
		return false
	}
	_, err := os.Stat(s.pathFor(hash))
	return err == nil
}

// Remove deletes the stored attachment for hash. Removing a payload that
// is already gone succeeds.
func (s *AttachmentStore) Remove(hash string) error {
	if !validHash(hash) {
		return fmt.Errorf("invalid content hash %q", hash)
	}

	path := s.pathFor(hash)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove attachment: %w", err)
	}

	// Drop the fanout directories once they empty out.
	dir := filepath.Dir(path)
	os.Remove(dir)
	os.Remove(filepath.Dir(dir))

	return nil
}

// List returns the digests of every stored attachment.
func (s *AttachmentStore) List() ([]string, error) {
	var hashes []string

	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.baseDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if name := d.Name(); validHash(name) {
			hashes = append(hashes, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk attachment store: %w", err)
	}

	return hashes, nil
}

func (s *AttachmentStore) pathFor(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}
