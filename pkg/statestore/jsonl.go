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
package statestore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/errkind"
)

// maxLineSize bounds a single JSONL record. Messages carry inline content but
// attachments travel over HTTP multipart, so 1 MiB is generous.
const maxLineSize = 1 << 20

var appendMu sync.Mutex

// Append marshals record as a single JSON line and appends it to the log at
// path, fsyncing before return. The record is durable once Append returns.
func Append(path string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errkind.Wrap(errkind.KindParseError, err, "encoding log record")
	}

	appendMu.Lock()
	defer appendMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errkind.IoError(err, "creating log directory for %s", filepath.Base(path))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errkind.IoError(err, "opening log %s", filepath.Base(path))
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return errkind.IoError(err, "appending to log %s", filepath.Base(path))
	}
	if err := f.Sync(); err != nil {
		return errkind.IoError(err, "syncing log %s", filepath.Base(path))
	}
	return nil
}

// ReadAll decodes every well-formed record in the log. Malformed lines are
// skipped; their count is logged by callers that care via ReadAllCounted.
func ReadAll[T any](path string) ([]T, error) {
	records, _, err := ReadAllCounted[T](path, nil)
	return records, err
}

// ReadAllCounted is ReadAll plus a malformed-line count. A nil logger is fine.
func ReadAllCounted[T any](path string, logger *zap.Logger) ([]T, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, errkind.IoError(err, "opening log %s", filepath.Base(path))
	}
	defer f.Close()

	records, skipped, _, err := scanRecords[T](f, false)
	if err != nil {
		return nil, skipped, err
	}
	if skipped > 0 && logger != nil {
		logger.Warn("skipped malformed log lines",
			zap.String("log", filepath.Base(path)),
			zap.Int("skipped", skipped))
	}
	return records, skipped, nil
}

// ReadFrom decodes records that start at or after the byte offset and returns
// the offset to resume from. A trailing line without a newline is assumed to
// be an in-flight append and is not consumed.
func ReadFrom[T any](path string, offset int64) ([]T, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, offset, nil
		}
		return nil, offset, errkind.IoError(err, "opening log %s", filepath.Base(path))
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, errkind.IoError(err, "seeking log %s", filepath.Base(path))
		}
	}

	records, _, consumed, err := scanRecords[T](f, true)
	if err != nil {
		return nil, offset, err
	}
	return records, offset + consumed, nil
}

// scanRecords reads newline-terminated JSON records. When requireNewline is
// set, a final unterminated line is left unconsumed so the next read picks it
// up once the writer finishes.
func scanRecords[T any](r io.Reader, requireNewline bool) (records []T, skipped int, consumed int64, err error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, readErr := reader.ReadBytes('\n')
		complete := readErr == nil

		if len(line) > 0 && (complete || !requireNewline) {
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				if len(trimmed) > maxLineSize {
					skipped++
				} else {
					var rec T
					if jsonErr := json.Unmarshal(trimmed, &rec); jsonErr != nil {
						skipped++
					} else {
						records = append(records, rec)
					}
				}
			}
			if complete {
				consumed += int64(len(line))
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return records, skipped, consumed, nil
			}
			return records, skipped, consumed, errkind.IoError(readErr, "scanning log")
		}
	}
}
