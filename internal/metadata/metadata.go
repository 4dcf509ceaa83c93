package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Transfer kinds
const (
	KindDownload = "download"
	KindUpload   = "upload"
)

// Transfer outcomes
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const recordPrefix = "transfer:"

// TransferRecord is one served download or one received file.
type TransferRecord struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest,omitempty"`
	Status    string `json:"status"`
	Remote    string `json:"remote,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt int64  `json:"created_at"` // Unix nanoseconds
}

func (r TransferRecord) Time() time.Time {
	return time.Unix(0, r.CreatedAt)
}

// HistoryStore wraps BadgerDB for the transfer history.
type HistoryStore struct {
	db *badger.DB
}

// OpenHistoryStore opens (or creates) a BadgerDB at the given path.
func OpenHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Close closes the BadgerDB.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// PutRecord stores a record, filling in ID and CreatedAt when unset.
// Keys sort by creation time.
func (hs *HistoryStore) PutRecord(rec TransferRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixNano()
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return hs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec), val)
	})
}

// ListRecords returns up to limit records, newest first. limit <= 0
// returns everything.
func (hs *HistoryStore) ListRecords(limit int) ([]TransferRecord, error) {
	var records []TransferRecord
	err := hs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the last key <= the seek key.
		for it.Seek([]byte(recordPrefix + "\xff")); it.Valid(); it.Next() {
			var rec TransferRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				return nil
			}
		}
		return nil
	})
	return records, err
}

func recordKey(rec TransferRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", recordPrefix, rec.CreatedAt, rec.ID))
}

// NewTransferRecord creates a record stamped with the current time.
func NewTransferRecord(kind, fileName string, size int64, digest, status string) TransferRecord {
	return TransferRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		FileName:  fileName,
		Size:      size,
		Digest:    digest,
		Status:    status,
		CreatedAt: time.Now().UnixNano(),
	}
}
