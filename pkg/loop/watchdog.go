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

package loop

import "time"

const (
	// progressSummaryEvery is the iteration cadence for progress summaries.
	progressSummaryEvery = 10
	// stallAfter is how long without progress before warning. Stalls warn,
	// they never stop the run.
	stallAfter = 5 * time.Minute
)

// watchdog tracks forward motion across iterations: file creations and
// successful side-effecting tools count as progress.
type watchdog struct {
	now          func() time.Time
	lastProgress time.Time
	lastAction   string
	filesCreated int
	stallWarned  bool
}

func newWatchdog(now func() time.Time) *watchdog {
	return &watchdog{now: now, lastProgress: now()}
}

// progress records a meaningful action; createdFile bumps the file tally.
func (w *watchdog) progress(action string, createdFile bool) {
	w.lastAction = action
	w.lastProgress = w.now()
	w.stallWarned = false
	if createdFile {
		w.filesCreated++
	}
}

// summaryDue reports whether this iteration should emit a progress summary.
func (w *watchdog) summaryDue(iteration int) bool {
	return iteration > 0 && iteration%progressSummaryEvery == 0
}

// stalled reports true once per quiet period without progress.
func (w *watchdog) stalled() bool {
	if w.stallWarned || w.now().Sub(w.lastProgress) < stallAfter {
		return false
	}
	w.stallWarned = true
	return true
}
