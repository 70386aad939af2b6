package ingest

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

var (
	// ErrAwaitingSnapshot is returned for an incremental delta on a market
	// that has no book yet or whose book is stale.
	ErrAwaitingSnapshot = errors.New("awaiting snapshot")
	// ErrDuplicateOrOld is returned for a delta whose sequence was already
	// applied.
	ErrDuplicateOrOld = errors.New("duplicate or old sequence")
	// ErrSequenceGap matches every *SequenceGapError.
	ErrSequenceGap = errors.New("sequence gap")
)

// SequenceGapError reports the sequence the book expected and the one it got.
type SequenceGapError struct {
	Market   domain.MarketID
	Expected uint64
	Got      uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap on %s: expected %d, got %d", e.Market, e.Expected, e.Got)
}

func (e *SequenceGapError) Is(target error) bool { return target == ErrSequenceGap }

// Outcome names the class a delta was attributed to.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeAwaitingSnapshot Outcome = "awaiting_snapshot"
	OutcomeDuplicateOrOld   Outcome = "duplicate_or_old"
	OutcomeSequenceGap      Outcome = "sequence_gap"
	OutcomeInvalid          Outcome = "invalid"
)

// Classify maps an Apply result to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, ErrAwaitingSnapshot):
		return OutcomeAwaitingSnapshot
	case errors.Is(err, ErrDuplicateOrOld):
		return OutcomeDuplicateOrOld
	case errors.Is(err, ErrSequenceGap):
		return OutcomeSequenceGap
	default:
		return OutcomeInvalid
	}
}
