// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"sync"
)

// claims holds the names of the hardware channels held by a controller.
var claims = struct {
	sync.Mutex
	owners map[string]*Controller
}{
	owners: make(map[string]*Controller),
}

func claim(name string, ctl *Controller) error {
	claims.Lock()
	defer claims.Unlock()

	owner, dup := claims.owners[name]
	switch {
	case !dup:
		claims.owners[name] = ctl
		return nil
	case owner == ctl:
		return nil
	default:
		return fmt.Errorf("%w (channel=%q)", ErrHardwareBusy, name)
	}
}

func release(name string, ctl *Controller) {
	claims.Lock()
	defer claims.Unlock()

	if claims.owners[name] == ctl {
		delete(claims.owners, name)
	}
}
