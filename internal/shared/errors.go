// Package shared holds sentinel errors and small helpers used by both the
// client sync engine and the reference server.
package shared

import "errors"

var (

	// common errors
	ErrorNotFound = errors.New("not found")

	// identifier-mapping errors
	ErrorMappingConflict   = errors.New("mapping conflict")
	ErrorMappingUnresolved = errors.New("mapping unresolved")

	// event-queue errors
	ErrorIllegalTransition = errors.New("illegal status transition")

	// conflict errors
	ErrorConflictResolved  = errors.New("conflict already resolved")
	ErrorUnknownResolution = errors.New("unknown resolution choice")

	// sync errors
	ErrorOffline = errors.New("network unavailable")

	// auth-specific errors
	ErrorInvalidToken            = errors.New("invalid token")
	ErrorInvalidAuthheaderFormat = errors.New("invalid auth header format")

	// remote-store errors
	ErrorAlreadyExists = errors.New("already exists")
)
