package recovery

import (
	"fmt"

	"github.com/mattjoyce/redispatch/internal/unit"
)

// Key is the lookup identity of a failure: the kind pair, never the instances.
type Key struct {
	Unit    unit.Kind
	Failure unit.FailureKind
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Unit, k.Failure)
}

// Pair records a failed unit together with the failure it raised.
// The key is fixed when the pair is built.
type Pair struct {
	source unit.Unit
	err    error
	key    Key
}

// NewPair builds the failure record for source failing with err.
func NewPair(source unit.Unit, err error) Pair {
	return Pair{
		source: source,
		err:    err,
		key:    Key{Unit: source.Kind(), Failure: unit.KindOf(err)},
	}
}

// Source is the unit that failed.
func (p Pair) Source() unit.Unit { return p.source }

// Err is the failure value, kept intact for strategies that log it.
func (p Pair) Err() error { return p.err }

func (p Pair) Key() Key { return p.key }
