// Package gpuerr defines the engine's error taxonomy.
//
// Every failure that leaves a subsystem is marked with exactly one category.
// Marks survive wrapping, so callers classify with errors.Is regardless of
// how much context was added on the way up:
//
//	if errors.Is(err, gpuerr.ErrDescriptorExhaustion) {
//		// recoverable: free sets or build fewer materials
//	}
//
// DeviceSelection, ResourceCreation and SynchronizationTimeout are fatal:
// they abort the affected initialization or frame. DescriptorExhaustion and
// AssetLoad are recoverable and surfaced to the caller.
package gpuerr

import (
	"github.com/cockroachdb/errors"
)

// Error categories.
var (
	// ErrDeviceSelection means no physical device satisfies the requirements.
	ErrDeviceSelection = errors.New("device selection failure")

	// ErrResourceCreation means a buffer, image, view, pipeline, sync object
	// or other driver object could not be created.
	ErrResourceCreation = errors.New("resource creation failure")

	// ErrSynchronizationTimeout means a fence or acquire wait exceeded its
	// deadline, or a queue operation failed in the steady-state loop.
	ErrSynchronizationTimeout = errors.New("synchronization timeout")

	// ErrDescriptorExhaustion means descriptor pools cannot satisfy an
	// allocation even after chaining a new pool.
	ErrDescriptorExhaustion = errors.New("descriptor exhaustion")

	// ErrAssetLoad means a shader, mesh or texture input could not be read
	// or is malformed.
	ErrAssetLoad = errors.New("asset load failure")
)

// DeviceSelection marks err as a device selection failure.
func DeviceSelection(err error, format string, args ...any) error {
	return mark(err, ErrDeviceSelection, format, args...)
}

// ResourceCreation marks err as a resource creation failure.
func ResourceCreation(err error, format string, args ...any) error {
	return mark(err, ErrResourceCreation, format, args...)
}

// SynchronizationTimeout marks err as a synchronization failure.
func SynchronizationTimeout(err error, format string, args ...any) error {
	return mark(err, ErrSynchronizationTimeout, format, args...)
}

// DescriptorExhaustion marks err as descriptor exhaustion.
func DescriptorExhaustion(err error, format string, args ...any) error {
	return mark(err, ErrDescriptorExhaustion, format, args...)
}

// AssetLoad marks err as an asset load failure.
func AssetLoad(err error, format string, args ...any) error {
	return mark(err, ErrAssetLoad, format, args...)
}

// mark wraps err with a message and the category mark. A nil err produces a
// fresh error carrying only the message, so call sites that detect a failure
// themselves (no driver error to wrap) use the same constructor.
func mark(err, category error, format string, args ...any) error {
	if err == nil {
		err = errors.NewWithDepthf(2, format, args...)
	} else {
		err = errors.WrapWithDepthf(2, err, format, args...)
	}
	return errors.Mark(err, category)
}

// Category returns the category mark carried by err, or nil.
func Category(err error) error {
	for _, c := range []error{
		ErrDeviceSelection,
		ErrResourceCreation,
		ErrSynchronizationTimeout,
		ErrDescriptorExhaustion,
		ErrAssetLoad,
	} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// IsFatal reports whether err should abort the engine. Unclassified errors
// are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	c := Category(err)
	return c != ErrDescriptorExhaustion && c != ErrAssetLoad
}
