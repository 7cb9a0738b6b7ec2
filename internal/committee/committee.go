// internal/committee/committee.go
package committee

import (
	"fmt"
	"math/rand"
	"sort"
)

// Member is one validator in the committee together with its voting stake.
type Member struct {
	ID    ValidatorID `json:"id"`
	Stake uint64      `json:"stake"`
}

// Committee is the stake-weighted set of validators valid for one epoch.
// It is immutable after construction.
type Committee struct {
	epoch      uint64
	members    []Member
	index      map[ValidatorID]int
	totalStake uint64
}

// New creates a committee for the given epoch. Members are stored in a
// canonical order so that every validator derives the identical committee
// from the same membership data.
func New(epoch uint64, members []Member) (*Committee, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("committee must have at least one member")
	}

	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	index := make(map[ValidatorID]int, len(sorted))
	var total uint64
	for i, m := range sorted {
		if m.Stake == 0 {
			return nil, fmt.Errorf("member %s has zero stake", m.ID)
		}
		if _, exists := index[m.ID]; exists {
			return nil, fmt.Errorf("duplicate committee member %s", m.ID)
		}
		index[m.ID] = i
		total += m.Stake
	}

	return &Committee{
		epoch:      epoch,
		members:    sorted,
		index:      index,
		totalStake: total,
	}, nil
}

// Epoch returns the epoch this committee is valid for.
func (c *Committee) Epoch() uint64 {
	return c.epoch
}

// Size returns the number of committee members.
func (c *Committee) Size() int {
	return len(c.members)
}

// Members returns a copy of the committee membership.
func (c *Committee) Members() []Member {
	out := make([]Member, len(c.members))
	copy(out, c.members)
	return out
}

// Contains reports whether the given validator is a committee member.
func (c *Committee) Contains(id ValidatorID) bool {
	_, ok := c.index[id]
	return ok
}

// StakeOf returns the stake of the given validator, or zero if it is not a
// member.
func (c *Committee) StakeOf(id ValidatorID) uint64 {
	i, ok := c.index[id]
	if !ok {
		return 0
	}
	return c.members[i].Stake
}

// TotalStake returns the sum of all members' stake.
func (c *Committee) TotalStake() uint64 {
	return c.totalStake
}

// ShuffleByStake returns a permutation of all member identities drawn with
// the supplied RNG, where the probability of each next pick is proportional
// to the remaining members' stake. Given the same RNG state the permutation
// is fully deterministic.
func (c *Committee) ShuffleByStake(rng *rand.Rand) []ValidatorID {
	remaining := make([]Member, len(c.members))
	copy(remaining, c.members)
	total := c.totalStake

	out := make([]ValidatorID, 0, len(remaining))
	for len(remaining) > 0 {
		pick := uint64(rng.Int63n(int64(total)))

		chosen := len(remaining) - 1
		var acc uint64
		for i, m := range remaining {
			acc += m.Stake
			if pick < acc {
				chosen = i
				break
			}
		}

		member := remaining[chosen]
		out = append(out, member.ID)
		total -= member.Stake
		remaining = append(remaining[:chosen], remaining[chosen+1:]...)
	}

	return out
}
