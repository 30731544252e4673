// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package disk

import (
	"strings"

	"github.com/openstack-archive/congress-sub001/logging"
)

// wrap adapts a logging.Logger to the badger.Logger interface. Badger
// terminates its messages with newlines.
type wrap struct {
	l logging.Logger
}

func (w *wrap) Errorf(f string, a ...interface{}) {
	w.l.Error(strings.TrimSuffix(f, "\n"), a...)
}

func (w *wrap) Warningf(f string, a ...interface{}) {
	w.l.Warn(strings.TrimSuffix(f, "\n"), a...)
}

func (w *wrap) Infof(f string, a ...interface{}) {
	w.l.Info(strings.TrimSuffix(f, "\n"), a...)
}

func (w *wrap) Debugf(f string, a ...interface{}) {
	w.l.Debug(strings.TrimSuffix(f, "\n"), a...)
}
