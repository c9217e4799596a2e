// Package syncengine compares two providers' directory trees and drives
// the SendChanges/ReceiveChanges pipe between them.
package syncengine

import "fmt"

// CompareMode selects how Compare treats one comparison dimension
// (modification time or size) when deciding whether an item present on
// both sides needs to be copied. The zero value, CompareChanged, is the
// common default: copy whenever the values differ.
type CompareMode int

const (
	CompareChanged CompareMode = iota
	CompareIgnore
	CompareNewer  // valid only for Options.MtimeMode
	CompareBigger // valid only for Options.SizeMode
)

// Options configures Compare's tree walk.
type Options struct {
	// SyncDeletes schedules a delete for anything present on the
	// destination but not the source. Off by default: most callers use
	// Compare to grow a backup, not mirror deletions into it.
	SyncDeletes bool

	// MtimeMode is CompareChanged, CompareNewer, or CompareIgnore.
	MtimeMode CompareMode

	// SizeMode is CompareChanged, CompareBigger, or CompareIgnore.
	SizeMode CompareMode
}

// normalize validates the mode fields and rejects the combination that
// would leave a shared file's copy decision with no signal to act on.
func (o Options) normalize() (Options, error) {
	switch o.MtimeMode {
	case CompareChanged, CompareNewer, CompareIgnore:
	default:
		return o, fmt.Errorf("syncengine: invalid MtimeMode %d", o.MtimeMode)
	}
	switch o.SizeMode {
	case CompareChanged, CompareBigger, CompareIgnore:
	default:
		return o, fmt.Errorf("syncengine: invalid SizeMode %d", o.SizeMode)
	}
	if o.MtimeMode == CompareIgnore && o.SizeMode == CompareIgnore {
		return o, fmt.Errorf("syncengine: MtimeMode and SizeMode cannot both be CompareIgnore")
	}
	return o, nil
}
