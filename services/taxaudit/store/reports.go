// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/feeaudit/services/taxaudit/report"
	"github.com/dgraph-io/badger/v4"
)

const (
	reportPrefix = "report/"
	indexPrefix  = "idx/"
)

var (
	// ErrNotFound indicates no report with the requested ID.
	ErrNotFound = errors.New("report not found")

	// ErrInvalidReport indicates a document that cannot be stored.
	ErrInvalidReport = errors.New("invalid report")
)

// ReportStore persists report.Documents.
//
// Thread Safety: Safe for concurrent use.
type ReportStore struct {
	db        *badger.DB
	gc        *gcRunner
	closeOnce sync.Once
	closeErr  error
}

// Open opens the store described by cfg and starts value log GC when
// cfg.GCInterval is set on a persistent database.
func Open(cfg Config) (*ReportStore, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	s := &ReportStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		gc, err := startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("start gc: %w", err)
		}
		s.gc = gc
	}
	return s, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *ReportStore) Close() error {
	s.closeOnce.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func reportKey(id string) []byte { return []byte(reportPrefix + id) }

func indexKey(doc report.Document) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", indexPrefix, doc.CreatedAt.UnixNano(), doc.ID))
}

// Save writes doc and its index entry in one transaction. Saving an ID
// again replaces the document and moves its index entry.
func (s *ReportStore) Save(ctx context.Context, doc report.Document) error {
	if doc.ID == "" || strings.Contains(doc.ID, "/") {
		return fmt.Errorf("%w: id %q", ErrInvalidReport, doc.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", doc.ID, err)
	}
	summary, err := json.Marshal(doc.Summarize())
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", doc.ID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := getDoc(txn, doc.ID)
		switch {
		case err == nil:
			if err := txn.Delete(indexKey(prev)); err != nil {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if err := txn.Set(reportKey(doc.ID), raw); err != nil {
			return err
		}
		return txn.Set(indexKey(doc), summary)
	})
}

// Get returns the report with id, or ErrNotFound.
func (s *ReportStore) Get(ctx context.Context, id string) (report.Document, error) {
	if err := ctx.Err(); err != nil {
		return report.Document{}, err
	}
	var doc report.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = getDoc(txn, id)
		return err
	})
	return doc, err
}

func getDoc(txn *badger.Txn, id string) (report.Document, error) {
	item, err := txn.Get(reportKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return report.Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return report.Document{}, err
	}
	var doc report.Document
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	})
	if err != nil {
		return report.Document{}, fmt.Errorf("decode report %s: %w", id, err)
	}
	return doc, nil
}

// List returns summaries newest first. limit <= 0 returns everything.
func (s *ReportStore) List(ctx context.Context, limit int) ([]report.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []report.Summary
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(indexPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sum report.Summary
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			})
			if err != nil {
				return fmt.Errorf("decode index %s: %w", it.Item().Key(), err)
			}
			out = append(out, sum)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

// Delete removes the report with id, or returns ErrNotFound.
func (s *ReportStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		doc, err := getDoc(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(indexKey(doc)); err != nil {
			return err
		}
		return txn.Delete(reportKey(id))
	})
}
