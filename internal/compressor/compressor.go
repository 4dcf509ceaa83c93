package compressor

import (
	"archive/tar"
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
)

const (
	FormatZip    = "zip"
	FormatTarLZ4 = "tar.lz4"
)

var skipExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".lz4": true,
	".mp3": true, ".flac": true, ".aac": true,
	".apk": true, ".iso": true,
}

// ShouldSkipCompression reports files whose content is already compressed.
func ShouldSkipCompression(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return skipExtensions[ext]
}

// NotFoundError is returned for an input path that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "file not found: " + e.Path
}

// ResolveInputs makes every path absolute and checks that it exists.
func ResolveInputs(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	resolved := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if os.IsNotExist(err) {
				return nil, &NotFoundError{Path: abs}
			}
			return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
		}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}

// NeedsBundle reports whether the inputs must be packed into one archive:
// when forced, when there are several, or when any is a directory.
func NeedsBundle(paths []string, force bool) (bool, error) {
	if force || len(paths) > 1 {
		return true, nil
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return false, err
		}
		if info.IsDir() {
			return true, nil
		}
	}
	return false, nil
}

// BuildArchive packs paths into dhara-<ms>.<format> inside dir and returns
// the archive path. Directories are added recursively under their base name.
// On failure the partial archive is removed.
func BuildArchive(paths []string, dir, format string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	switch format {
	case FormatZip, FormatTarLZ4:
	default:
		return "", fmt.Errorf("unknown archive format %q", format)
	}

	name := filepath.Join(dir, fmt.Sprintf("dhara-%d.%s", time.Now().UnixMilli(), format))
	out, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	if format == FormatZip {
		err = writeZip(out, paths)
	} else {
		err = writeTarLZ4(out, paths)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to build archive: %w", err)
	}

	logrus.WithFields(logrus.Fields{"archive": name, "inputs": len(paths)}).Debug("Archive built")
	return name, nil
}

// entry is one file or directory headed for an archive.
type entry struct {
	src  string
	name string
	info fs.FileInfo
}

// walkInputs visits every input and, for directories, everything below it.
// Entry names are slash separated and rooted at the input's base name.
func walkInputs(paths []string, visit func(entry) error) error {
	for _, root := range paths {
		base := filepath.Base(root)
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() && !info.IsDir() {
				logrus.WithField("path", p).Debug("Skipping non-regular file")
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			return visit(entry{src: p, name: path.Join(base, filepath.ToSlash(rel)), info: info})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeZip(out io.Writer, paths []string) error {
	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	err := walkInputs(paths, func(e entry) error {
		hdr, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return err
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)
			return err
		}
		hdr.Method = zip.Deflate
		if ShouldSkipCompression(e.src) {
			hdr.Method = zip.Store
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFile(w, e.src)
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

func writeTarLZ4(out io.Writer, paths []string) error {
	lw := lz4.NewWriter(out)
	if err := lw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
		return err
	}
	tw := tar.NewWriter(lw)

	err := walkInputs(paths, func(e entry) error {
		hdr, err := tar.FileInfoHeader(e.info, "")
		if err != nil {
			return err
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if e.info.IsDir() {
			return nil
		}
		return copyFile(tw, e.src)
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return lw.Close()
}

func copyFile(dst io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}
