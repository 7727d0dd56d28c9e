/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package closer provides best-effort io.Closer cleanup for the
// provider lifecycle subsystem's child-process pipes, where a close
// error is never fatal to the operation in progress.
package closer

import (
	"io"

	"github.com/go-logr/logr"
)

// CloseQuietly closes c and logs any error at a low severity without
// propagating it. Intended for defer/cleanup paths around a provider
// child's stdio pipes, where the close outcome cannot change the
// instance's lifecycle decision.
func CloseQuietly(c io.Closer, log logr.Logger, ctx string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.V(1).Info("close failed", "ctx", ctx, "err", err.Error())
	}
}

// CloseQuietlyWithoutLogger closes c and ignores any error. Use this
// only when no logger is available and the close outcome is not worth
// recording.
func CloseQuietlyWithoutLogger(c io.Closer) {
	if c != nil {
		_ = c.Close() //nolint:errcheck // best-effort cleanup
	}
}
