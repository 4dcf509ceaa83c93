package transfer

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/dhara/internal/metadata"
	"github.com/jaywantadh/dhara/internal/storage"
	"github.com/jaywantadh/dhara/internal/token"
	"github.com/jaywantadh/dhara/pkg/logging"
)

//go:embed upload.html
var uploadForm []byte

// UploadState is the lifecycle of an upload session.
type UploadState int32

const (
	UploadIdle UploadState = iota
	UploadListening
	UploadStopped
)

func (s UploadState) String() string {
	switch s {
	case UploadIdle:
		return "idle"
	case UploadListening:
		return "listening"
	case UploadStopped:
		return "stopped"
	}
	return "unknown"
}

// UploadSession receives any number of multipart uploads at
// /upload/<id> until the server is stopped.
type UploadSession struct {
	endpoint Endpoint
	id       string
	store    storage.Storage

	state    atomic.Int32
	received atomic.Int64

	maxBodySize int64
	tokenBytes  int
	recorder    Recorder
	log         logrus.FieldLogger
}

type UploadOption func(*UploadSession)

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) UploadOption {
	return func(s *UploadSession) { s.id = id }
}

func WithIDBytes(n int) UploadOption {
	return func(s *UploadSession) { s.tokenBytes = n }
}

// WithMaxBodySize caps each POST body. Zero means unlimited.
func WithMaxBodySize(n int64) UploadOption {
	return func(s *UploadSession) { s.maxBodySize = n }
}

func WithUploadRecorder(r Recorder) UploadOption {
	return func(s *UploadSession) { s.recorder = r }
}

func WithUploadLogger(l logrus.FieldLogger) UploadOption {
	return func(s *UploadSession) { s.log = l }
}

// NewUploadSession creates a fresh dhara_uploads_<ms> directory under
// baseDir and a session writing into it.
func NewUploadSession(baseDir string, started time.Time, ep Endpoint, opts ...UploadOption) (*UploadSession, error) {
	store, err := storage.NewSessionDir(baseDir, started)
	if err != nil {
		return nil, err
	}
	return NewUploadSessionWithStorage(store, ep, opts...)
}

func NewUploadSessionWithStorage(store storage.Storage, ep Endpoint, opts ...UploadOption) (*UploadSession, error) {
	s := &UploadSession{
		endpoint:   ep,
		store:      store,
		tokenBytes: token.MinBytes,
		log:        logging.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.id == "" {
		id, err := token.New(s.tokenBytes)
		if err != nil {
			return nil, err
		}
		s.id = id
	} else if !token.Valid(s.id) {
		return nil, fmt.Errorf("session id %q is not a valid path segment", s.id)
	}
	logging.Redactor.Register(s.id)
	return s, nil
}

func (s *UploadSession) Route() string        { return UploadPrefix + s.id }
func (s *UploadSession) URL() string          { return s.endpoint.URL(s.Route()) }
func (s *UploadSession) ID() string           { return s.id }
func (s *UploadSession) Dir() string          { return s.store.Dir() }
func (s *UploadSession) ReceivedCount() int64 { return s.received.Load() }

func (s *UploadSession) State() UploadState {
	return UploadState(s.state.Load())
}

func (s *UploadSession) onListen() {
	s.state.CompareAndSwap(int32(UploadIdle), int32(UploadListening))
}

func (s *UploadSession) onStop() {
	s.state.Store(int32(UploadStopped))
}

func (s *UploadSession) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.Route() {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(uploadForm)
	case http.MethodPost:
		s.receive(w, r)
	default:
		notFound(w)
	}
}

// receive saves every file part of a multipart body. Files saved before a
// failure stay on disk and stay counted.
func (s *UploadSession) receive(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithField("remote", r.RemoteAddr)
	if s.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	}

	batch, err := s.saveParts(r, log)
	if err != nil {
		log.WithError(err).WithField("saved", batch).Error("Upload failed")
		writeText(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", msgUploadFailed, err))
		return
	}

	log.WithFields(logrus.Fields{"files": batch, "total": s.ReceivedCount()}).Info("Upload batch received")
	writeText(w, http.StatusOK, msgUploadOK)
}

func (s *UploadSession) saveParts(r *http.Request, log logrus.FieldLogger) (int, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return 0, err
	}

	batch := 0
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return batch, nil
		}
		if err != nil {
			return batch, err
		}
		// Plain form fields and empty file inputs carry no file name.
		if part.FileName() == "" {
			part.Close()
			continue
		}

		stored, err := s.store.Put(part.FileName(), part)
		part.Close()
		if err != nil {
			s.recordFailure(part.FileName(), r.RemoteAddr, err)
			return batch, err
		}

		batch++
		count := s.received.Add(1)
		log.WithFields(logrus.Fields{
			"file":   stored.Name,
			"size":   humanize.IBytes(uint64(stored.Size)),
			"digest": stored.Digest,
			"count":  count,
		}).Infof("Received: %s (%d bytes)", stored.Name, stored.Size)

		rec := metadata.NewTransferRecord(metadata.KindUpload, stored.Name, stored.Size, stored.Digest, metadata.StatusCompleted)
		rec.Remote = r.RemoteAddr
		s.record(rec)
	}
}

func (s *UploadSession) recordFailure(name, remote string, err error) {
	rec := metadata.NewTransferRecord(metadata.KindUpload, name, 0, "", metadata.StatusFailed)
	rec.Remote = remote
	rec.Error = err.Error()
	s.record(rec)
}

func (s *UploadSession) record(rec metadata.TransferRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.PutRecord(rec); err != nil {
		s.log.WithError(err).Warn("Failed to record transfer history")
	}
}
