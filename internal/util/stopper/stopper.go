// Copyright 2024 The Attendly Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package stopper provides a cancellable, joinable handle for a
// long-lived background goroutine. It is the cancellation handle
// passed to the recognition worker in place of a back-pointer to its
// controller: the worker can observe Stopping() and the controller can
// call Stop() and then Wait() with a bounded deadline, without either
// side needing a reference to the other's internals.
package stopper

import (
	"context"
	"time"
)

// Context wraps a context.Context with an explicit Stop/Wait protocol
// so a supervisor can request shutdown and then bound how long it
// waits for the supervised goroutine to actually exit.
type Context struct {
	context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Context derived from parent. The caller of the
// supervised goroutine must call Done() exactly once when the
// goroutine returns.
func New(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{Context: ctx, cancel: cancel, done: make(chan struct{})}
}

// Stop signals the supervised goroutine to exit at its next
// cancellation checkpoint. It does not block.
func (c *Context) Stop() { c.cancel() }

// Done must be called by the supervised goroutine exactly once, when
// it has finished and released any resources it owned.
func (c *Context) Done() { close(c.done) }

// Wait blocks until Done is called or timeout elapses, whichever comes
// first. It returns nil if the goroutine finished in time, or
// context.DeadlineExceeded if the deadline was reached first — in
// which case the goroutine should be considered leaked and the caller
// should log it as a severe event.
func (c *Context) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

// Stopping returns a channel that is closed once Stop has been
// called, mirroring a supervised-goroutine's Stopping() idiom so loop
// bodies can select on it alongside other channels.
func (c *Context) Stopping() <-chan struct{} {
	return c.Context.Done()
}
