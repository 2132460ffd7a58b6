// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package events provides a minimal event-recording facade the cache
// uses to surface duplicate-PV and metadata-mismatch warnings to a
// caller-supplied sink, independent of any particular event backend.
package events

import (
	"fmt"

	"github.com/go-logr/logr"
)

// Recorder records a discrete event. Eventtype is conventionally
// "Normal" or "Warning", mirroring the two-level severity the original
// LVM client logs at for cache warnings (§7).
type Recorder interface {
	// Event records a single event.
	Event(eventtype, reason, message string)

	// Eventf records an event with a formatted message.
	Eventf(eventtype, reason, messageFmt string, args ...any)
}

// noopRecorder discards every event.
type noopRecorder struct{}

func (noopRecorder) Event(eventtype, reason, message string)                 {}
func (noopRecorder) Eventf(eventtype, reason, messageFmt string, args ...any) {}

// NewNoopRecorder returns a Recorder that discards every event. It is
// the default for a Cache constructed without WithRecorder.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

// loggingRecorder records every event as a structured log line.
type loggingRecorder struct {
	log logr.Logger
}

// NewLoggingRecorder returns a Recorder that writes each event through
// log, at V(0) for "Warning" events and V(1) for everything else.
func NewLoggingRecorder(log logr.Logger) Recorder {
	return &loggingRecorder{log: log}
}

func (r *loggingRecorder) Event(eventtype, reason, message string) {
	r.logAt(eventtype).Info(message, "reason", reason)
}

func (r *loggingRecorder) Eventf(eventtype, reason, messageFmt string, args ...any) {
	r.logAt(eventtype).Info(fmt.Sprintf(messageFmt, args...), "reason", reason)
}

func (r *loggingRecorder) logAt(eventtype string) logr.Logger {
	if eventtype == "Warning" {
		return r.log.V(0)
	}
	return r.log.V(1)
}
