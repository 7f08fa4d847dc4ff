// Package threadfactory provides the ThreadFactory interface the Client
// facade uses to spawn its single background scheduler goroutine, and a
// fake that always fails so the inline-drive fallback path can be
// exercised in tests without needing an actually-sandboxed runtime.
package threadfactory

import "errors"

// ThreadFactory produces exactly one background "thread" (goroutine) to
// run a function. It returns an error if the runtime forbids spawning
// long-running background work (e.g. certain sandboxed or serverless
// environments), in which case the Client facade falls back to
// inline-drive mode.
type ThreadFactory interface {
	Start(fn func()) error
}

// Goroutine is a ThreadFactory that always succeeds, spawning fn as a
// plain goroutine.
type Goroutine struct{}

func (Goroutine) Start(fn func()) error {
	go fn()
	return nil
}

// ErrSpawnForbidden is returned by Failing to simulate a sandboxed runtime.
var ErrSpawnForbidden = errors.New("threadfactory: background thread creation forbidden")

// Failing is a ThreadFactory that always fails, simulating a runtime that
// cannot spawn long-running background threads.
type Failing struct{}

func (Failing) Start(fn func()) error {
	return ErrSpawnForbidden
}
