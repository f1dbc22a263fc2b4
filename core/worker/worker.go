// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package worker provides a minimal halt-able goroutine primitive for
// background loops; in this module it is embedded by TimerQueue, whose
// dispatch loop it runs.
package worker

import "sync"

// Worker is an embeddable helper that manages the lifetime of one or
// more goroutines launched via Go. Callers signal shutdown with Halt
// and block for completion with Wait; goroutines started with Go
// should select on HaltCh() to notice the request.
type Worker struct {
	sync.WaitGroup

	haltOnce sync.Once
	haltCh   chan struct{}
	initOnce sync.Once
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// HaltCh returns the channel that is closed when Halt is called.
func (w *Worker) HaltCh() chan struct{} {
	w.init()
	return w.haltCh
}

// Go launches fn in a new goroutine tracked by the worker's WaitGroup.
func (w *Worker) Go(fn func()) {
	w.init()
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals all goroutines launched via Go to stop, idempotently.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// IsHalted reports whether Halt has already been called.
func (w *Worker) IsHalted() bool {
	w.init()
	select {
	case <-w.haltCh:
		return true
	default:
		return false
	}
}
