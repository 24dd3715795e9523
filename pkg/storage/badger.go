package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"transcript-orchestrator/pkg/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

const (
	assetPrefix = "asset/"
	jobPrefix   = "job/"
)

type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger-backed MappingStore at
// path. Records live under "asset/<name>"; a secondary index entry
// "job/<id>" -> asset name is written in the same transaction as the
// record so reverse lookups never observe a half-written pair.
func NewBadgerStore(path string) (MappingStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(assetName string) (*models.MappingRecord, error) {
	var rec models.MappingRecord

	err := s.db.View(func(txn *badger.Txn) error {
		return readRecord(txn, assetKey(assetName), &rec)
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (s *badgerStore) GetByJobID(jobID string) (*models.MappingRecord, error) {
	var rec models.MappingRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(jobID))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read job index: %w", err)
		}

		var assetName string
		if err := item.Value(func(val []byte) error {
			assetName = string(val)
			return nil
		}); err != nil {
			return err
		}

		return readRecord(txn, assetKey(assetName), &rec)
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (s *badgerStore) Put(rec *models.MappingRecord, expectedVersion string) error {
	newVersion := uuid.New().String()

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(assetKey(rec.AssetName))
		switch {
		case err == badger.ErrKeyNotFound:
			if expectedVersion != "" {
				return ErrConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read record: %w", err)
		default:
			var stored models.MappingRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}
			if stored.Version != expectedVersion {
				return ErrConflict
			}
		}

		rec.Version = newVersion
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		if err := txn.Set(assetKey(rec.AssetName), data); err != nil {
			return err
		}
		return txn.Set(jobKey(rec.Job.JobID), []byte(rec.AssetName))
	})
	if err != nil {
		rec.Version = expectedVersion
		return err
	}

	return nil
}

func (s *badgerStore) List(activeOnly bool) ([]*models.MappingRecord, error) {
	var recs []*models.MappingRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(assetPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.MappingRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if activeOnly && rec.Job.Status.Terminal() {
				continue
			}
			r := rec
			recs = append(recs, &r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return recs, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

func readRecord(txn *badger.Txn, key []byte, rec *models.MappingRecord) error {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
}

func assetKey(name string) []byte {
	return []byte(assetPrefix + name)
}

func jobKey(id string) []byte {
	return []byte(jobPrefix + id)
}
