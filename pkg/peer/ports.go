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
package peer

import (
	"fmt"
	"net"

	"github.com/society-labs/society/pkg/errkind"
)

const (
	// DefaultPortMin and DefaultPortMax bound the local port scan.
	DefaultPortMin = 3000
	DefaultPortMax = 4000
)

// listenFirstFree scans [min, max] in order and binds the first available
// local port.
func listenFirstFree(min, max int) (net.Listener, int, error) {
	if min <= 0 {
		min = DefaultPortMin
	}
	if max < min {
		max = DefaultPortMax
	}
	for port := min; port <= max; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, errkind.IoError(nil, "no free port in [%d, %d]", min, max)
}
