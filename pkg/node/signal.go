// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import "time"

// signal hands a value from the driver's receive goroutine to the waiting
// protocol round. It holds at most one value; later notifies are dropped
// until the waiter drains it.
type signal[T any] struct {
	ch chan T
}

func newSignal[T any]() *signal[T] {
	return &signal[T]{ch: make(chan T, 1)}
}

// notify never blocks the driver
func (s *signal[T]) notify(v T) bool {
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// wait returns the pending value, or false if none arrives within d
func (s *signal[T]) wait(d time.Duration) (T, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v := <-s.ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}
