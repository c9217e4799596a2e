// Package constants holds tunables shared across packages so that buffer
// sizes, timeouts, and protocol limits live in one place.
package constants

import "time"

// File-crypto chunk sizes.
const (
	// EncryptionChunkSize is the read buffer used while streaming a file
	// body through AES-CBC (16 KiB).
	EncryptionChunkSize = 16 * 1024

	// FilenameBlockSize is the block boundary filenames are padded to
	// before encryption, per the wire format in spec.md §4.1 (32 bytes).
	FilenameBlockSize = 32

	// ChunkSize is the size of the large pooled buffers in
	// internal/util/buffers (16 MiB).
	ChunkSize = 16 * 1024 * 1024
)

// HTTP transport tuning, shared by the remote provider's RPC client.
const (
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 60 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second
)

// Retry configuration for the remote provider's RPC client.
const (
	MaxRetries        = 10
	RetryInitialDelay = 200 * time.Millisecond
	RetryMaxDelay     = 15 * time.Second
)

// ReceiveChanges batching thresholds, per spec.md §4.4: a batch flushes
// once either threshold is crossed.
const (
	ReceiveChangesBatchRecords = 1000
	ReceiveChangesBatchBytes   = 1 * 1024 * 1024
)

// Continuous-sync timing.
const (
	// DefaultSyncMode is the continuous-sync mode string applied when none
	// is configured, per spec.md §4.7.
	DefaultSyncMode = "ad"

	// MtimeTolerance is the window within which two mtimes are considered
	// equal, per spec.md §4.6 (CHANGED/NEWER use ±1s).
	MtimeTolerance = 1 * time.Second

	// ReducerTickDivisor controls how often the event reducer checks for
	// quiescence, expressed as a fraction of the debounce TTL (TTL/10).
	ReducerTickDivisor = 10
)

// Long-poll observer table, per spec.md §4.5.
const (
	// DefaultPollTTL is the renewal window granted to an observer per poll.
	DefaultPollTTL = 30 * time.Second

	// DefaultPollGranularity is how often pollchanges re-checks for
	// buffered events while long-polling.
	DefaultPollGranularity = 500 * time.Millisecond
)

// Event bus buffering (ambient logging/event plumbing).
const (
	EventBusDefaultBuffer = 1000
	EventBusMaxBuffer     = 5000
)
