// Package retry implements the reconnect backoff policy used by
// stream.ReconnectStream: a restartable factory of delay iterators,
// defaulting to truncated binary exponential backoff.
package retry

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Iterator yields successive retry delays for one reconnect episode.
// Next returns (delay, true) while attempts remain, and (0, false)
// once the policy considers the episode exhausted.
type Iterator interface {
	Next() (time.Duration, bool)
}

// Policy is a restartable factory of Iterators: every call to
// NewIterator begins counting attempts from zero again, which is what
// ReconnectStream does each time a connection is freshly established
// and later drops.
type Policy interface {
	NewIterator() Iterator
}

// BEBPolicy implements truncated Binary Exponential Backoff.
//
// For attempt n (starting at 0): if n >= Fail, the episode is
// exhausted. Otherwise k = min(n, Truncate), draw u uniformly from
// [0, 2^k * 100], and yield a delay of Unit * u / 100.
type BEBPolicy struct {
	Unit     time.Duration
	Truncate uint
	Fail     uint
}

// NewBEBPolicy constructs a BEBPolicy, validating that truncate is
// strictly less than fail (an episode that truncates growth at or
// past its own failure threshold can never reach the capped delay).
func NewBEBPolicy(unit time.Duration, truncate, fail uint) (*BEBPolicy, error) {
	if truncate >= fail {
		return nil, fmt.Errorf("retry: truncate (%d) must be less than fail (%d)", truncate, fail)
	}
	if unit <= 0 {
		return nil, fmt.Errorf("retry: unit must be positive, got %v", unit)
	}
	return &BEBPolicy{Unit: unit, Truncate: truncate, Fail: fail}, nil
}

// DefaultBEBPolicy returns the documented default truncated BEB
// policy: a 1-second unit, backoff growth capped after 5 consecutive
// failures, giving up after 10.
func DefaultBEBPolicy() *BEBPolicy {
	return &BEBPolicy{Unit: time.Second, Truncate: 5, Fail: 10}
}

// NewIterator returns a fresh BEB delay sequence starting at attempt 0.
func (p *BEBPolicy) NewIterator() Iterator {
	return &bebIterator{policy: p}
}

type bebIterator struct {
	policy  *BEBPolicy
	attempt uint
}

func (it *bebIterator) Next() (time.Duration, bool) {
	if it.attempt >= it.policy.Fail {
		return 0, false
	}
	k := it.attempt
	if k > it.policy.Truncate {
		k = it.policy.Truncate
	}
	it.attempt++

	ceiling := uint64(1) << k * 100
	u := rand.Uint64N(ceiling + 1)
	return time.Duration(u) * it.policy.Unit / 100, true
}
