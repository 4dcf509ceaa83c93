package transfer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/jaywantadh/dhara/internal/metadata"
	"github.com/jaywantadh/dhara/internal/token"
	"github.com/jaywantadh/dhara/pkg/logging"
)

const copyBufferSize = 256 * 1024

var (
	ErrNotRegular  = errors.New("not a regular file")
	errSourceShort = errors.New("source ended before the declared length")
	errSourceGrew  = errors.New("source grew past the declared length")
)

// DownloadState is the lifecycle of a download token.
type DownloadState int32

const (
	// StateIdle: listening, nobody has claimed the token.
	StateIdle DownloadState = iota
	// StateActive: the claiming request is streaming the file.
	StateActive
	// StateCompleted: the whole file was written to the claimant.
	StateCompleted
	// StateFailed: the claimant's stream was aborted. The token stays spent.
	StateFailed
)

func (s DownloadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// DownloadSession serves one file exactly once at /download/<token>.
type DownloadSession struct {
	endpoint   Endpoint
	token      string
	sourcePath string
	fileName   string
	fileSize   int64

	state    atomic.Int32
	done     chan struct{}
	doneOnce sync.Once

	tokenBytes int
	open       func(path string) (io.ReadCloser, error)
	progress   ProgressFactory
	recorder   Recorder
	log        logrus.FieldLogger
}

type DownloadOption func(*DownloadSession)

// WithToken fixes the token instead of generating one.
func WithToken(tok string) DownloadOption {
	return func(s *DownloadSession) { s.token = tok }
}

func WithTokenBytes(n int) DownloadOption {
	return func(s *DownloadSession) { s.tokenBytes = n }
}

func WithProgress(f ProgressFactory) DownloadOption {
	return func(s *DownloadSession) { s.progress = f }
}

func WithRecorder(r Recorder) DownloadOption {
	return func(s *DownloadSession) { s.recorder = r }
}

func WithLogger(l logrus.FieldLogger) DownloadOption {
	return func(s *DownloadSession) { s.log = l }
}

// WithOpener replaces os.Open for the source file.
func WithOpener(open func(path string) (io.ReadCloser, error)) DownloadOption {
	return func(s *DownloadSession) { s.open = open }
}

// NewDownloadSession snapshots the name and size of sourcePath. The size
// is the Content-Length promised to the client and is never re-read.
func NewDownloadSession(sourcePath string, ep Endpoint, opts ...DownloadOption) (*DownloadSession, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", abs, ErrNotRegular)
	}

	s := &DownloadSession{
		endpoint:   ep,
		sourcePath: abs,
		fileName:   info.Name(),
		fileSize:   info.Size(),
		done:       make(chan struct{}),
		tokenBytes: token.MinBytes,
		open:       func(p string) (io.ReadCloser, error) { return os.Open(p) },
		progress:   discardProgress,
		log:        logging.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.token == "" {
		if s.token, err = token.New(s.tokenBytes); err != nil {
			return nil, err
		}
	} else if !token.Valid(s.token) {
		return nil, fmt.Errorf("token %q is not a valid path segment", s.token)
	}
	logging.Redactor.Register(s.token)
	return s, nil
}

func (s *DownloadSession) Route() string    { return DownloadPrefix + s.token }
func (s *DownloadSession) URL() string      { return s.endpoint.URL(s.Route()) }
func (s *DownloadSession) Token() string    { return s.token }
func (s *DownloadSession) FileName() string { return s.fileName }
func (s *DownloadSession) FileSize() int64  { return s.fileSize }

func (s *DownloadSession) State() DownloadState {
	return DownloadState(s.state.Load())
}

// Done is closed once the file has been fully written to a client.
func (s *DownloadSession) Done() <-chan struct{} {
	return s.done
}

// claim moves Idle to Active. Exactly one caller ever gets true.
func (s *DownloadSession) claim() bool {
	return s.state.CompareAndSwap(int32(StateIdle), int32(StateActive))
}

func (s *DownloadSession) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != s.Route() {
		notFound(w)
		return
	}
	if !s.claim() {
		s.log.WithField("remote", r.RemoteAddr).Warn("Rejected request for spent download link")
		writeText(w, http.StatusForbidden, msgExpired)
		return
	}
	s.stream(w, r)
}

func (s *DownloadSession) stream(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithFields(logrus.Fields{"file": s.fileName, "remote": r.RemoteAddr})
	log.Info("Download started")

	src, err := s.open(s.sourcePath)
	if err != nil {
		s.fail(log, r, 0, err)
		writeText(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer src.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		s.fail(log, r, 0, err)
		writeText(w, http.StatusInternalServerError, "failed to open file")
		return
	}

	bar := s.progress(s.fileName, s.fileSize)
	meter := NewMeter(bar)

	h := w.Header()
	h.Set("Content-Disposition", contentDisposition(s.fileName))
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(s.fileSize, 10))

	if err := s.copy(meter.Writer(w), io.TeeReader(src, hasher)); err != nil {
		bar.Abort()
		sent := meter.Total()
		s.fail(log, r, sent, err)
		if sent == 0 {
			h.Del("Content-Disposition")
			h.Del("Content-Length")
			writeText(w, http.StatusInternalServerError, "failed to read file")
			return
		}
		// Headers are gone; dropping the connection is the only way to
		// tell the client the body is incomplete.
		panic(http.ErrAbortHandler)
	}

	bar.Finish()
	s.complete(log, r, hasher)
}

// copy streams exactly fileSize bytes from src to dst. It reads one byte
// past the declared length so a growing source is caught before its last
// chunk is written.
func (s *DownloadSession) copy(dst io.Writer, src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	var sent int64
	for {
		want := len(buf)
		if rem := s.fileSize - sent; rem < int64(want) {
			want = int(rem) + 1
		}
		n, rerr := src.Read(buf[:want])
		if int64(n) > s.fileSize-sent {
			return errSourceGrew
		}
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("client write: %w", err)
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			if sent < s.fileSize {
				return errSourceShort
			}
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("source read: %w", rerr)
		}
	}
}

func (s *DownloadSession) complete(log logrus.FieldLogger, r *http.Request, hasher hash.Hash) {
	s.state.Store(int32(StateCompleted))
	digest := hex.EncodeToString(hasher.Sum(nil))
	log.WithField("digest", digest).Info("Transfer complete")

	rec := metadata.NewTransferRecord(metadata.KindDownload, s.fileName, s.fileSize, digest, metadata.StatusCompleted)
	rec.Remote = r.RemoteAddr
	s.record(rec)

	s.doneOnce.Do(func() { close(s.done) })
}

func (s *DownloadSession) fail(log logrus.FieldLogger, r *http.Request, sent int64, err error) {
	s.state.Store(int32(StateFailed))
	log.WithError(err).WithField("sent", sent).Error("Download aborted")

	rec := metadata.NewTransferRecord(metadata.KindDownload, s.fileName, sent, "", metadata.StatusFailed)
	rec.Remote = r.RemoteAddr
	rec.Error = err.Error()
	s.record(rec)
}

func (s *DownloadSession) record(rec metadata.TransferRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.PutRecord(rec); err != nil {
		s.log.WithError(err).Warn("Failed to record transfer history")
	}
}
