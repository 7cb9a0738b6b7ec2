// internal/submitter/ordering.go

package submitter

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"golang.org/x/crypto/blake2b"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/errors"
)

// OrderForSubmission computes the deterministic submission order of the
// committee for the given transaction digest. Every validator computes the
// same permutation, and a validator's expected rank is inversely
// proportional to its stake: high-stake validators land early more often.
func OrderForSubmission(c *committee.Committee, digest transaction.Digest) []committee.ValidatorID {
	seed := blake2b.Sum256(digest[:])
	rng := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed[:8]))))
	return c.ShuffleByStake(rng)
}

// PositionForSubmission returns this validator's rank in the submission
// order for the digest.
func PositionForSubmission(c *committee.Committee, self committee.ValidatorID, digest transaction.Digest) (int, error) {
	for i, id := range OrderForSubmission(c, digest) {
		if id == self {
			return i, nil
		}
	}
	return 0, errors.NewSubmitterError(
		errors.SubmitterErrSelfNotInCommittee,
		fmt.Sprintf("validator %s is not a member of the epoch %d committee", self, c.Epoch()),
		nil,
	)
}
