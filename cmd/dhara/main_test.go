package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/dhara/internal/metadata"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// configDir writes a dhara.yaml with fast timings and the given extra lines.
// History is disabled unless extra sets history_path.
func configDir(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	yaml := "grace_delay: 10ms\nshutdown_timeout: 1s\n" + extra
	if !strings.Contains(extra, "history_path") {
		yaml += "history_path: \"\"\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dhara.yaml"), []byte(yaml), 0644))
	return dir
}

func testApp(out io.Writer, console io.Reader) *cli.App {
	app := newApp(out, console)
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

var urlPattern = regexp.MustCompile(`URL: (http://\S+)`)

func waitForURL(t *testing.T, out *syncBuffer) string {
	t.Helper()
	var url string
	require.Eventually(t, func() bool {
		m := urlPattern.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		url = m[1]
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return url
}

func runAsync(app *cli.App, args ...string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- app.Run(append([]string{"dhara"}, args...)) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("command did not stop")
		return nil
	}
}

func TestShareMissingFile(t *testing.T) {
	var out bytes.Buffer
	app := testApp(&out, strings.NewReader(""))

	missing := filepath.Join(t.TempDir(), "nope.txt")
	err := app.Run([]string{"dhara", "--config", configDir(t, ""), missing})
	require.Error(t, err)

	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.ExitCode())
	assert.Equal(t, "File not found: "+missing, err.Error())
	assert.NotContains(t, out.String(), "URL:")
}

func TestShareServesOnceAndStops(t *testing.T) {
	src := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0644))

	out := &syncBuffer{}
	console, input := io.Pipe()
	defer input.Close()
	port := freePort(t)

	done := runAsync(testApp(out, console),
		"--config", configDir(t, ""), "--host", "127.0.0.1", "--port", fmt.Sprint(port), src)

	url := waitForURL(t, out)
	assert.True(t, strings.HasPrefix(url, fmt.Sprintf("http://127.0.0.1:%d/download/", port)))

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0123456789", string(body))

	require.NoError(t, waitDone(t, done))
	assert.Contains(t, out.String(), "Sharing: hello.txt")
	assert.Contains(t, out.String(), "Transfer complete.")
}

func TestShareBundlesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "album")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))

	out := &syncBuffer{}
	console, input := io.Pipe()
	port := freePort(t)

	done := runAsync(testApp(out, console),
		"--config", configDir(t, ""), "--host", "127.0.0.1", "--port", fmt.Sprint(port), dir)

	waitForURL(t, out)
	assert.Regexp(t, `Sharing: dhara-\d+\.zip`, out.String())

	_, err := io.WriteString(input, "exit\n")
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))
	input.Close()

	m := regexp.MustCompile(`Sharing: (dhara-\d+\.zip)`).FindStringSubmatch(out.String())
	require.NotNil(t, m)
	_, err = os.Stat(filepath.Join(os.TempDir(), m[1]))
	assert.True(t, os.IsNotExist(err), "temporary archive must be removed")
	assert.Contains(t, out.String(), "before the file was downloaded")
}

func TestReceiveUntilExit(t *testing.T) {
	base := t.TempDir()
	out := &syncBuffer{}
	console, input := io.Pipe()
	port := freePort(t)

	done := runAsync(testApp(out, console),
		"receive", "--config", configDir(t, ""), "--host", "127.0.0.1",
		"--port", fmt.Sprint(port), "--dir", base, "-i", "phone")

	url := waitForURL(t, out)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d/upload/phone", port), url)

	var body bytes.Buffer
	body.WriteString("--xx\r\nContent-Disposition: form-data; name=\"files\"; filename=\"a.txt\"\r\n\r\nabc\r\n--xx--\r\n")
	resp, err := http.Post(url, "multipart/form-data; boundary=xx", &body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = io.WriteString(input, "EXIT\n")
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))
	input.Close()

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "dhara_uploads_"))

	data, err := os.ReadFile(filepath.Join(base, entries[0].Name(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	assert.Contains(t, out.String(), "Received 1 file(s)")
}

func TestHistoryCommand(t *testing.T) {
	historyPath := filepath.Join(t.TempDir(), "history")
	store, err := metadata.OpenHistoryStore(historyPath)
	require.NoError(t, err)
	older := metadata.NewTransferRecord(metadata.KindDownload, "movie.mkv", 3<<20, "0123456789abcdef0123", metadata.StatusCompleted)
	newer := metadata.NewTransferRecord(metadata.KindUpload, "photo.jpg", 2048, "", metadata.StatusFailed)
	newer.CreatedAt = older.CreatedAt + int64(time.Second)
	require.NoError(t, store.PutRecord(older))
	require.NoError(t, store.PutRecord(newer))
	require.NoError(t, store.Close())

	var out bytes.Buffer
	app := testApp(&out, strings.NewReader(""))
	cfg := configDir(t, fmt.Sprintf("history_path: %q\n", historyPath))
	require.NoError(t, app.Run([]string{"dhara", "history", "--config", cfg}))

	text := out.String()
	assert.Contains(t, text, "movie.mkv")
	assert.Contains(t, text, "3.0 MiB")
	assert.Contains(t, text, "0123456789ab")
	assert.NotContains(t, text, "0123456789abcdef")
	assert.Contains(t, text, "photo.jpg")
	assert.Less(t, strings.Index(text, "photo.jpg"), strings.Index(text, "movie.mkv"), "newest first")
}

func TestHistoryDisabled(t *testing.T) {
	var out bytes.Buffer
	app := testApp(&out, strings.NewReader(""))
	err := app.Run([]string{"dhara", "history", "--config", configDir(t, "")})
	assert.ErrorContains(t, err, "disabled")
}
