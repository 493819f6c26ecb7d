// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package progress

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// progressKeyPrefix namespaces progress snapshots in the shared BadgerDB.
const progressKeyPrefix = "portability:progress:"

// BadgerPersister persists progress snapshots in BadgerDB so that a
// restarted server still reports the last known state of each operation
// kind to pollers.
type BadgerPersister struct {
	db *badger.DB
}

// NewBadgerPersister creates a persister using the provided BadgerDB
// instance.
func NewBadgerPersister(db *badger.DB) *BadgerPersister {
	return &BadgerPersister{db: db}
}

// OpenBadgerPersister opens (creating if needed) a BadgerDB at dir and
// returns a persister over it. The returned close function must be called
// on shutdown.
func OpenBadgerPersister(dir string) (*BadgerPersister, func() error, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open progress store: %w", err)
	}
	return NewBadgerPersister(db), db.Close, nil
}

func key(kind Kind) []byte {
	return []byte(progressKeyPrefix + string(kind))
}

// Save persists a snapshot for the kind.
func (p *BadgerPersister) Save(kind Kind, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(kind), data)
	})
}

// Load retrieves the last saved snapshot for the kind.
// Returns nil, nil if none has been saved.
func (p *BadgerPersister) Load(kind Kind) (*State, error) {
	var st State
	found := false
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(kind))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

// Clear removes the snapshot for the kind.
func (p *BadgerPersister) Clear(kind Kind) error {
	return p.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(kind))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
