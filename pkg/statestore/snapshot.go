// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statestore provides the two persistence primitives every shared
// structure in the system is built on: atomic JSON snapshots (registry,
// projects, task lists) and append-only JSONL logs (messages, deliveries,
// inboxes). Snapshots are written tmp-then-rename so readers never observe a
// half-written file; appends are fsynced before returning.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/errkind"
)

// Store serializes read-modify-write cycles per snapshot path. Cross-process
// consistency comes from the rename; the in-process mutex only prevents this
// process from racing itself.
type Store struct {
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store.
func New(opts ...Option) *Store {
	s := &Store{
		locks:  make(map[string]*sync.Mutex),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// ReadSnapshot decodes the snapshot at path into v. A missing file returns
// errkind.KindNotFound; most callers treat that as an empty state.
func (s *Store) ReadSnapshot(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errkind.NotFound("snapshot %s does not exist", filepath.Base(path))
		}
		return errkind.IoError(err, "reading snapshot %s", filepath.Base(path))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errkind.Wrap(errkind.KindParseError, err, fmt.Sprintf("decoding snapshot %s", filepath.Base(path)))
	}
	return nil
}

// UpdateSnapshot applies merge to the current snapshot bytes (nil when the
// file does not exist yet) and atomically replaces the file with the result.
// The write is retried once before surfacing an IoError.
func (s *Store) UpdateSnapshot(path string, merge func(current []byte) ([]byte, error)) error {
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	current, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errkind.IoError(err, "reading snapshot %s", filepath.Base(path))
	}

	next, err := merge(current)
	if err != nil {
		return err
	}

	if err := writeAtomic(path, next); err != nil {
		s.logger.Warn("snapshot write failed, retrying once",
			zap.String("path", path),
			zap.Error(err))
		if err := writeAtomic(path, next); err != nil {
			return errkind.IoError(err, "writing snapshot %s", filepath.Base(path))
		}
	}
	return nil
}

// writeAtomic writes data to path.tmp, fsyncs, and renames over path.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// UpdateJSON is a typed convenience over UpdateSnapshot: it decodes the
// current snapshot into a zero T (missing file included), lets mutate modify
// it, and writes the re-encoded value back atomically.
func UpdateJSON[T any](s *Store, path string, mutate func(*T) error) error {
	return s.UpdateSnapshot(path, func(current []byte) ([]byte, error) {
		var v T
		if len(current) > 0 {
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, errkind.Wrap(errkind.KindParseError, err,
					fmt.Sprintf("decoding snapshot %s", filepath.Base(path)))
			}
		}
		if err := mutate(&v); err != nil {
			return nil, err
		}
		return json.MarshalIndent(&v, "", "  ")
	})
}

// ReadJSON decodes the snapshot at path into a T, returning the zero value
// when the file does not exist.
func ReadJSON[T any](s *Store, path string) (T, error) {
	var v T
	err := s.ReadSnapshot(path, &v)
	if err != nil && errkind.Is(err, errkind.KindNotFound) {
		return v, nil
	}
	return v, err
}
