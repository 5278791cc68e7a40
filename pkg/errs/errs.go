// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errs implements the error taxonomy of the catalog/segment data
// plane: every error raised by internal/* is one of five kinds, expressed
// as sentinel values so call sites use errors.Is rather than type switches.
package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies an error for retry and API-mapping purposes.
type Kind string

const (
	// KindNotFound means the referenced entity (segment, index, job) does
	// not exist in the catalog.
	KindNotFound Kind = "not_found"
	// KindInvalidRequest means the caller supplied a malformed or
	// semantically invalid request; retrying without changing the request
	// will not help.
	KindInvalidRequest Kind = "invalid_request"
	// KindTransient means the operation failed for a reason expected to
	// clear on its own (network blip, lock contention, lease expiry).
	KindTransient Kind = "transient"
	// KindCorruption means on-disk or wire data failed an invariant check
	// (bad magic, checksum mismatch, truncated record).
	KindCorruption Kind = "corruption"
	// KindFatal means the process cannot continue safely and should exit.
	KindFatal Kind = "fatal"
)

// Sentinel root causes, one per Kind. Wrap identifies its Kind by
// errors.Is against these, the way cockroachdb/errors expects sentinel
// comparison to survive wrapping.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrTransient      = errors.New("transient error")
	ErrCorruption     = errors.New("data corruption")
	ErrFatal          = errors.New("fatal error")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindTransient:
		return ErrTransient
	case KindCorruption:
		return ErrCorruption
	case KindFatal:
		return ErrFatal
	default:
		return ErrFatal
	}
}

// detailedError pairs a Kind-tagged sentinel with a message and optional
// structured detail fields, the way a storage-diagnostics error wants to
// carry a path/offset/expected-vs-actual triple without inventing a new
// Go type per call site.
type detailedError struct {
	kind    Kind
	msg     string
	details map[string]any
	cause   error
}

func (e *detailedError) Error() string {
	if e.msg == "" {
		return string(e.kind)
	}
	return e.msg
}

func (e *detailedError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return sentinelFor(e.kind)
}

// Is matches the sentinel of e's own Kind, so an error built by Wrap
// reports the Kind it was tagged with even though Unwrap returns its cause.
func (e *detailedError) Is(target error) bool {
	return target == sentinelFor(e.kind)
}

// New constructs a Kind-tagged error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &detailedError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a Kind and message, preserving the original
// error in the chain so errors.Is/errors.As still reach it.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &detailedError{kind: kind, msg: fmt.Sprintf(format, args...) + ": " + err.Error(), cause: err}
}

// WithDetail attaches a structured key/value to a detailedError, returning
// a new error. Non-detailedError inputs are wrapped as Fatal first.
func WithDetail(err error, key string, value any) error {
	de, ok := err.(*detailedError)
	if !ok {
		de = &detailedError{kind: KindFatal, msg: err.Error(), cause: err}
	}
	cp := *de
	cp.details = make(map[string]any, len(de.details)+1)
	for k, v := range de.details {
		cp.details[k] = v
	}
	cp.details[key] = value
	return &cp
}

// Details returns the structured fields attached via WithDetail, if any.
func Details(err error) map[string]any {
	var de *detailedError
	if errors.As(err, &de) {
		return de.details
	}
	return nil
}

// Is reports whether err is tagged with (or wraps a sentinel for) kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, sentinelFor(kind))
}

// KindOf returns the Kind of err, defaulting to KindFatal for errors that
// were never tagged through this package.
func KindOf(err error) Kind {
	for _, k := range []Kind{KindNotFound, KindInvalidRequest, KindTransient, KindCorruption, KindFatal} {
		if Is(err, k) {
			return k
		}
	}
	return KindFatal
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) error { return New(KindNotFound, format, args...) }

// InvalidRequestf builds a KindInvalidRequest error.
func InvalidRequestf(format string, args ...any) error {
	return New(KindInvalidRequest, format, args...)
}

// Transientf builds a KindTransient error.
func Transientf(format string, args ...any) error { return New(KindTransient, format, args...) }

// Corruptionf builds a KindCorruption error.
func Corruptionf(format string, args ...any) error { return New(KindCorruption, format, args...) }

// Fatalf builds a KindFatal error.
func Fatalf(format string, args ...any) error { return New(KindFatal, format, args...) }
