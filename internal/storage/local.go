package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// maxRenames bounds the " (n)" suffix search for colliding names.
const maxRenames = 1000

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrSessionDir  = errors.New("failed to create session directory")
)

// LocalStorage implements the Storage interface for the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage uses an existing directory.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage directory: %s is not a directory", abs)
	}
	return &LocalStorage{basePath: abs}, nil
}

// NewSessionDir creates dhara_uploads_<unix ms> under base. The directory
// must not exist yet.
func NewSessionDir(base string, started time.Time) (*LocalStorage, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(abs, fmt.Sprintf("dhara_uploads_%d", started.UnixMilli()))
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionDir, err)
	}
	return &LocalStorage{basePath: dir}, nil
}

func (s *LocalStorage) Dir() string {
	return s.basePath
}

// Put stores content under the sanitized name. An existing file is never
// replaced: "a.txt" becomes "a (1).txt", "a (2).txt", and so on. Partial
// files are removed on failure.
func (s *LocalStorage) Put(name string, r io.Reader) (Stored, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return Stored{}, err
	}

	f, finalName, err := s.create(clean)
	if err != nil {
		return Stored{}, err
	}
	filePath := f.Name()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		os.Remove(filePath)
		return Stored{}, err
	}

	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		f.Close()
		os.Remove(filePath)
		return Stored{}, fmt.Errorf("failed to write %s: %w", finalName, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(filePath)
		return Stored{}, fmt.Errorf("failed to close %s: %w", finalName, err)
	}

	return Stored{
		Name:   finalName,
		Path:   filePath,
		Size:   n,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// create opens a new file exclusively, trying numbered variants of name.
func (s *LocalStorage) create(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// ".bashrc" has no stem worth numbering
		stem, ext = name, ""
	}

	for i := 0; i < maxRenames; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		full, err := s.resolve(candidate)
		if err != nil {
			return nil, "", err
		}
		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to create %s: %w", candidate, err)
		}
		return f, candidate, nil
	}
	return nil, "", fmt.Errorf("no free name for %s after %d attempts", name, maxRenames)
}

// resolve joins name to the base and checks the result stays inside it.
func (s *LocalStorage) resolve(name string) (string, error) {
	full := filepath.Join(s.basePath, name)
	rel, err := filepath.Rel(s.basePath, full)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) || strings.ContainsRune(rel, os.PathSeparator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return full, nil
}

// SanitizeName reduces a client supplied file name to its last path
// element. Both separators are honoured regardless of platform, so
// "../../etc/passwd" and `..\..\boot.ini` yield "passwd" and "boot.ini".
// Names that reduce to nothing usable are rejected.
func SanitizeName(name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	name = path.Base(name)

	// drive letter: C:evil.exe
	if len(name) >= 2 && name[1] == ':' && isASCIILetter(name[0]) {
		name = name[2:]
	}
	name = strings.TrimSpace(name)

	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: control character", ErrInvalidName)
		}
	}
	return name, nil
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
