// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import "errors"

var (
	// ErrNotFound is returned by lookups that miss. It is not logged as
	// an error: a miss is an expected outcome for many callers (§7).
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousVGName is returned by VGIDFromVGName when more than
	// one VGInfo shares the requested name.
	ErrAmbiguousVGName = errors.New("ambiguous vg name: multiple volume groups share this name")

	// ErrScanInProgress is returned by BeginScan when a scan is already
	// in progress; nested scans are a hard failure of the re-entrant
	// call, not a recoverable condition (§5, §7).
	ErrScanInProgress = errors.New("label scan already in progress")

	// ErrLockOutOfOrder is returned by VerifyOrder/Lock when acquiring
	// the requested name would violate the alphabetical ordering
	// discipline (§4.5).
	ErrLockOutOfOrder = errors.New("lock acquisition would violate ordering discipline")

	// ErrNestedLock is a programming-error class: locking a name that
	// is already locked.
	ErrNestedLock = errors.New("nested lock: name is already locked")

	// ErrUnlockNotLocked is a programming-error class: unlocking a name
	// that is not locked.
	ErrUnlockNotLocked = errors.New("unlock of a name that is not locked")

	// ErrDestroyedWhileLocked is logged (not returned) when destroy
	// finds a VG still locked.
	ErrDestroyedWhileLocked = errors.New("cache destroyed while vg still locked")
)

// IgnoreNotFound returns nil if err is ErrNotFound, otherwise it
// returns err unchanged. Mirrors the convention used throughout the
// teacher's LVM client for treating absence as success.
func IgnoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
