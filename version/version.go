// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package version contains version information that is set at build time.
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
)

// Version is the canonical version of the engine.
var Version = "0.1.0-dev"

// GoVersion is the version of Go this was built with
var GoVersion = runtime.Version()

// Platform is the runtime OS and architecture of this binary
var Platform = runtime.GOOS + "/" + runtime.GOARCH

// Additional version information that is displayed by the "version" command.
var (
	Vcs       = ""
	Timestamp = ""
	Hostname  = ""
)

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	var dirty bool
	var binTimestamp, binVcs string

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.time":
			binTimestamp = s.Value
		case "vcs.revision":
			binVcs = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if Timestamp == "" {
		Timestamp = binTimestamp
	}

	if Vcs == "" {
		Vcs = binVcs
		if dirty {
			Vcs += "-dirty"
		}
	}
}

// Print writes the version information to w, one field per line.
func Print(w io.Writer) error {
	for _, line := range [][2]string{
		{"Version", Version},
		{"Build Commit", Vcs},
		{"Build Timestamp", Timestamp},
		{"Build Hostname", Hostname},
		{"Go Version", GoVersion},
		{"Platform", Platform},
	} {
		if _, err := fmt.Fprintf(w, "%v: %v\n", line[0], line[1]); err != nil {
			return err
		}
	}
	return nil
}
