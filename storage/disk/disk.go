// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package disk provides a badger-backed store for policy definitions.
//
// Each policy is stored under its own key as a JSON record holding the
// policy kind and its statements in canonical text form. Derived state is
// not stored; it is recomputed when the statements are loaded.
package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/storage"
)

// Options contains parameters that configure the disk-based store.
type Options struct {
	Dir      string         // directory to store data inside of
	InMemory bool           // keep data in memory only, Dir is ignored
	Logger   logging.Logger // receives badger's log output
}

// Policy is the stored form of a policy.
type Policy struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Store provides a disk-based store of policies.
type Store struct {
	db *badger.DB
}

const (
	// metadataKey is a special value in the store for tracking schema versions.
	metadataKey = "metadata"

	// policiesPrefix is the key prefix of policy records.
	policiesPrefix = "policies/"

	supportedSchemaVersion int64 = 1
)

type metadata struct {
	SchemaVersion int64 `json:"schema_version"`
}

// New returns a new disk-based store based on the provided options.
func New(_ context.Context, opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&wrap{l: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, wrapError(err)
	}

	store := &Store{db: db}
	if err := db.Update(store.init); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close finishes the DB connection and allows other processes to acquire it.
func (s *Store) Close(context.Context) error {
	return wrapError(s.db.Close())
}

func (s *Store) init(txn *badger.Txn) error {
	item, err := txn.Get([]byte(metadataKey))
	if err == badger.ErrKeyNotFound {
		bs, err := json.Marshal(metadata{SchemaVersion: supportedSchemaVersion})
		if err != nil {
			return wrapError(err)
		}
		return wrapError(txn.Set([]byte(metadataKey), bs))
	} else if err != nil {
		return wrapError(err)
	}

	var m metadata
	if err := item.Value(func(bs []byte) error { return json.Unmarshal(bs, &m) }); err != nil {
		return wrapError(err)
	}
	if m.SchemaVersion != supportedSchemaVersion {
		return &storage.Error{
			Code:    storage.InternalErr,
			Message: fmt.Sprintf("unsupported schema version: %v (want %v)", m.SchemaVersion, supportedSchemaVersion),
		}
	}
	return nil
}

func policyKey(name string) []byte {
	return []byte(policiesPrefix + name)
}

// ListPolicies returns the names of the stored policies in sorted order.
func (s *Store) ListPolicies(context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(policiesPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), policiesPrefix))
		}
		return nil
	})
	sort.Strings(names)
	return names, wrapError(err)
}

// GetPolicy returns the stored policy called name.
func (s *Store) GetPolicy(_ context.Context, name string) (Policy, error) {
	var p Policy
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(policyKey(name))
		if err == badger.ErrKeyNotFound {
			return storage.NotFoundErrorf("policy not found: %v", name)
		} else if err != nil {
			return err
		}
		return item.Value(func(bs []byte) error { return json.Unmarshal(bs, &p) })
	})
	return p, wrapError(err)
}

// UpsertPolicy stores p, replacing any policy with the same name.
func (s *Store) UpsertPolicy(_ context.Context, p Policy) error {
	return wrapError(s.db.Update(func(txn *badger.Txn) error {
		return setPolicy(txn, p)
	}))
}

// DeletePolicy removes the policy called name.
func (s *Store) DeletePolicy(_ context.Context, name string) error {
	return wrapError(s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(policyKey(name)); err == badger.ErrKeyNotFound {
			return storage.NotFoundErrorf("policy not found: %v", name)
		} else if err != nil {
			return err
		}
		return txn.Delete(policyKey(name))
	}))
}

// ReplacePolicies atomically replaces every stored policy with ps.
func (s *Store) ReplacePolicies(_ context.Context, ps []Policy) error {
	return wrapError(s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(policiesPrefix)
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, p := range ps {
			if err := setPolicy(txn, p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func setPolicy(txn *badger.Txn, p Policy) error {
	bs, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return txn.Set(policyKey(p.Name), bs)
}
