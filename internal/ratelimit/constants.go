// Package ratelimit provides rate limiting for the remote provider's RPC
// calls to a blind-backup server, using a token bucket per action scope.
package ratelimit

import "time"

// Server action scopes.
//
// The remote provider's wire protocol (internal/provider/remote) groups
// actions into three throttle scopes so that a burst of cheap metadata
// calls never starves the heavier transfer actions, and vice versa.
const (
	// MetadataRatePerSec is the target rate for listdir/getinfo/clone/drill.
	MetadataRatePerSec = 10.0

	// MetadataBurstCapacity allows a brief burst of metadata calls, e.g. at
	// the start of a full directory comparison.
	MetadataBurstCapacity = 50

	// TransferRatePerSec is the target rate for sendchanges/receivechanges,
	// which carry file bodies and are individually more expensive.
	TransferRatePerSec = 5.0

	// TransferBurstCapacity allows a short burst of transfer calls before
	// settling into the sustained rate.
	TransferBurstCapacity = 20

	// PollRatePerSec is the target rate for pollchanges/listenchanges
	// long-poll requests issued by the continuous-sync controller.
	PollRatePerSec = 2.0

	// PollBurstCapacity is small: long-poll requests are infrequent by
	// design (one outstanding request per watched root).
	PollBurstCapacity = 5
)

// Utilization thresholds (refill rate as a fraction of the hard limit) for
// the hysteresis in emitUtilizationNotice, plus the minimum interval
// between two notices.
const (
	UtilizationWarnThreshold   = 0.6
	UtilizationSuppressThreshold = 0.5
	NotifyMinInterval          = 30 * time.Second
)
