package compressor

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture lays out notes.txt, photo.jpg and album/{a.txt,deep/b.txt}.
func fixture(t *testing.T) (string, []string) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"notes.txt":        strings.Repeat("notes ", 200),
		"photo.jpg":        "\xff\xd8\xff not really a jpeg",
		"album/a.txt":      "first",
		"album/deep/b.txt": "second",
	}
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	return root, []string{
		filepath.Join(root, "notes.txt"),
		filepath.Join(root, "photo.jpg"),
		filepath.Join(root, "album"),
	}
}

func TestShouldSkipCompression(t *testing.T) {
	assert.True(t, ShouldSkipCompression("holiday.MP4"))
	assert.True(t, ShouldSkipCompression("/tmp/a.zip"))
	assert.False(t, ShouldSkipCompression("readme.md"))
	assert.False(t, ShouldSkipCompression("Makefile"))
}

func TestResolveInputs(t *testing.T) {
	root, inputs := fixture(t)
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
	t.Setenv("PWD", root)

	resolved, err := ResolveInputs([]string{"notes.txt", "album"})
	require.NoError(t, err)
	assert.Equal(t, []string{inputs[0], inputs[2]}, resolved)

	_, err = ResolveInputs([]string{"notes.txt", "missing.bin"})
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, filepath.Join(root, "missing.bin"), nf.Path)

	_, err = ResolveInputs(nil)
	assert.Error(t, err)
}

func TestNeedsBundle(t *testing.T) {
	_, inputs := fixture(t)

	tests := []struct {
		name  string
		paths []string
		force bool
		want  bool
	}{
		{"single file", inputs[:1], false, false},
		{"forced", inputs[:1], true, true},
		{"several files", inputs[:2], false, true},
		{"directory", inputs[2:], false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NeedsBundle(tt.paths, tt.force)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildZipArchive(t *testing.T) {
	_, inputs := fixture(t)
	out := t.TempDir()

	archive, err := BuildArchive(inputs, out, FormatZip)
	require.NoError(t, err)
	assert.Equal(t, out, filepath.Dir(archive))
	assert.True(t, strings.HasPrefix(filepath.Base(archive), "dhara-"))
	assert.True(t, strings.HasSuffix(archive, ".zip"))

	zr, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer zr.Close()

	contents := map[string]string{}
	methods := map[string]uint16{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents[f.Name] = string(data)
		methods[f.Name] = f.Method
	}

	assert.Equal(t, "first", contents["album/a.txt"])
	assert.Equal(t, "second", contents["album/deep/b.txt"])
	assert.Equal(t, strings.Repeat("notes ", 200), contents["notes.txt"])
	assert.Equal(t, zip.Deflate, methods["notes.txt"])
	assert.Equal(t, zip.Store, methods["photo.jpg"])
}

func TestBuildTarLZ4Archive(t *testing.T) {
	_, inputs := fixture(t)

	archive, err := BuildArchive(inputs, t.TempDir(), FormatTarLZ4)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(archive, ".tar.lz4"))

	f, err := os.Open(archive)
	require.NoError(t, err)
	defer f.Close()

	tr := tar.NewReader(lz4.NewReader(f))
	var names []string
	contents := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			contents[hdr.Name] = string(data)
		}
	}

	sort.Strings(names)
	assert.Equal(t, []string{"album/", "album/a.txt", "album/deep/", "album/deep/b.txt", "notes.txt", "photo.jpg"}, names)
	assert.Equal(t, "second", contents["album/deep/b.txt"])
}

func TestBuildArchiveErrors(t *testing.T) {
	_, inputs := fixture(t)
	out := t.TempDir()

	_, err := BuildArchive(inputs, out, "rar")
	assert.Error(t, err)

	_, err = BuildArchive([]string{filepath.Join(out, "gone.txt")}, out, FormatZip)
	assert.Error(t, err)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed archives are removed")
}
