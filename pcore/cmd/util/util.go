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

// Package util groups helpers shared by pcore commands.
package util

import (
	"fmt"
	"io"
	"os"

	"gvisor.dev/procore/pkg/log"
)

// ErrorLogger is where error messages should be written to, in addition to
// the debug log. It defaults to stderr.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs the same message to the debug log and to the error log before
// exiting.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	writeError(format, args...)
	os.Exit(128)
}

func writeError(format string, args ...any) {
	if ErrorLogger == nil {
		return
	}
	fmt.Fprintf(ErrorLogger, "pcore: "+format+"\n", args...)
}
