// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Tx is a typed view over one Badger transaction. Write helpers fail with
// badger.ErrReadOnlyTxn when called from View.
type Tx struct {
	txn *badger.Txn
	now time.Time
}

// Now is the wall clock captured when the transaction started.
func (t *Tx) Now() time.Time { return t.now }

func (t *Tx) getJSON(key string, v interface{}) error {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (t *Tx) setJSON(key string, v interface{}) error {
	return t.setJSONTTL(key, v, 0)
}

func (t *Tx) setJSONTTL(key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	e := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	if err := t.txn.SetEntry(e); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (t *Tx) del(key string) error {
	if err := t.txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// scan calls fn for every live key under prefix, in key order (or reverse).
// Returning errStopScan from fn ends the scan without error.
func (t *Tx) scan(prefix string, reverse bool, fn func(key string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.Reverse = reverse
	it := t.txn.NewIterator(opts)
	defer it.Close()

	start := []byte(prefix)
	if reverse {
		start = append(start, 0xff)
	}
	for it.Seek(start); it.ValidForPrefix([]byte(prefix)); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if errors.Is(err, errStopScan) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var errStopScan = errors.New("stop scan")

func scanJSON[T any](t *Tx, prefix string, reverse bool, fn func(key string, v T) error) error {
	return t.scan(prefix, reverse, func(key string, val []byte) error {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return fn(key, v)
	})
}
