// Package continuous drives event-triggered and periodic re-syncs
// between two providers once an initial backup has completed: a
// debounced reducer absorbs listener events, and a single-sync mutex
// ensures only one sync (full or drilled) runs at a time.
package continuous

import (
	"fmt"
	"strings"

	"github.com/rescale/blindbackup/internal/constants"
)

// Mode selects which continuous-sync behaviors are active, parsed from
// a subset of the letters "asbd".
type Mode struct {
	// Asymmetric propagates src -> dst.
	Asymmetric bool
	// Symmetric propagates src -> dst, then dst -> src.
	Symmetric bool
	// Background enables event-driven syncs from provider listeners, as
	// opposed to periodic full syncs only.
	Background bool
	// PropagateDeletes schedules deletes for items missing on one side.
	PropagateDeletes bool
}

// ParseMode parses s (e.g. "ad", "sbd") into a Mode. An empty string
// selects constants.DefaultSyncMode.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		s = constants.DefaultSyncMode
	}
	var m Mode
	for _, r := range s {
		switch r {
		case 'a':
			m.Asymmetric = true
		case 's':
			m.Symmetric = true
		case 'b':
			m.Background = true
		case 'd':
			m.PropagateDeletes = true
		default:
			return Mode{}, fmt.Errorf("continuous: invalid mode character %q in %q", r, s)
		}
	}
	if m.Asymmetric && m.Symmetric {
		return Mode{}, fmt.Errorf("continuous: mode %q cannot be both asymmetric and symmetric", s)
	}
	if !m.Asymmetric && !m.Symmetric {
		return Mode{}, fmt.Errorf("continuous: mode %q selects neither asymmetric nor symmetric sync", s)
	}
	return m, nil
}

// String reconstructs the wire form of m.
func (m Mode) String() string {
	var b strings.Builder
	if m.Asymmetric {
		b.WriteByte('a')
	}
	if m.Symmetric {
		b.WriteByte('s')
	}
	if m.Background {
		b.WriteByte('b')
	}
	if m.PropagateDeletes {
		b.WriteByte('d')
	}
	return b.String()
}
