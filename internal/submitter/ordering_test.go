// internal/submitter/ordering_test.go
package submitter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/transaction"
)

func testCommittee(t *testing.T, stakes ...uint64) *committee.Committee {
	t.Helper()
	members := make([]committee.Member, len(stakes))
	for i, stake := range stakes {
		members[i] = committee.Member{
			ID:    committee.ValidatorID(fmt.Sprintf("validator-%d", i)),
			Stake: stake,
		}
	}
	c, err := committee.New(1, members)
	require.NoError(t, err)
	return c
}

func digestOf(payload string) transaction.Digest {
	return transaction.Digest(blake2b.Sum256([]byte(payload)))
}

func TestOrderForSubmissionIsDeterministic(t *testing.T) {
	t.Parallel()

	c := testCommittee(t, 100, 200, 300, 400)
	digest := digestOf("some certificate")

	first := OrderForSubmission(c, digest)
	second := OrderForSubmission(c, digest)
	require.Equal(t, first, second)
}

func TestOrderForSubmissionIsFullPermutation(t *testing.T) {
	t.Parallel()

	c := testCommittee(t, 100, 200, 300, 400, 500)
	order := OrderForSubmission(c, digestOf("tx"))

	require.Len(t, order, c.Size())
	seen := make(map[committee.ValidatorID]bool)
	for _, id := range order {
		require.True(t, c.Contains(id))
		require.False(t, seen[id], "validator %s appears twice", id)
		seen[id] = true
	}
}

func TestOrderForSubmissionSpreadsLeadership(t *testing.T) {
	t.Parallel()

	c := testCommittee(t, 100, 100, 100, 100)

	leaders := make(map[committee.ValidatorID]int)
	for i := 0; i < 200; i++ {
		order := OrderForSubmission(c, digestOf(fmt.Sprintf("tx-%d", i)))
		leaders[order[0]]++
	}

	// With equal stake every validator should lead for some digests.
	require.Len(t, leaders, c.Size())
}

func TestOrderForSubmissionFavorsStake(t *testing.T) {
	t.Parallel()

	// One validator holds 97% of the stake.
	c := testCommittee(t, 1, 1, 1, 97)
	heavy := committee.ValidatorID("validator-3")

	leads := 0
	const samples = 200
	for i := 0; i < samples; i++ {
		order := OrderForSubmission(c, digestOf(fmt.Sprintf("tx-%d", i)))
		if order[0] == heavy {
			leads++
		}
	}

	require.Greater(t, leads, samples/2, "dominant stake should lead most submission orders")
}

func TestPositionForSubmission(t *testing.T) {
	t.Parallel()

	c := testCommittee(t, 100, 200, 300)
	digest := digestOf("tx")
	order := OrderForSubmission(c, digest)

	for want, id := range order {
		got, err := PositionForSubmission(c, id, digest)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := PositionForSubmission(c, "stranger", digest)
	require.Error(t, err)
}
