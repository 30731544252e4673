// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package disk

import (
	"errors"

	"github.com/openstack-archive/congress-sub001/storage"
)

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var e *storage.Error
	if errors.As(err, &e) {
		return err
	}
	// badger.ErrKeyNotFound is not converted here since whether a missing key
	// is an error depends on the call site.
	return &storage.Error{Code: storage.InternalErr, Message: err.Error()}
}
