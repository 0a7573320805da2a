// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ExpandLogPath replaces the %PID% and %START% placeholders in pattern.
func ExpandLogPath(pattern string, start time.Time) string {
	r := strings.NewReplacer(
		"%PID%", strconv.Itoa(os.Getpid()),
		"%START%", start.Format("20060102-150405"),
	)
	return r.Replace(pattern)
}

// OpenFile opens the log file described by pattern for appending, creating
// its parent directory if needed. An empty pattern yields a nil file.
func OpenFile(pattern string, start time.Time) (*os.File, error) {
	if len(pattern) == 0 {
		return nil, nil
	}
	logPath := ExpandLogPath(pattern, start)

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %v", dir, err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %v", logPath, err)
	}
	return f, nil
}
