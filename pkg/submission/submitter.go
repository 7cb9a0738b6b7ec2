// pkg/submission/submitter.go

// Package submission defines the narrow interface other components use to
// hand transactions to the submission layer without depending on its
// internals.
package submission

import (
	"github.com/cmatc13/sequencer/internal/transaction"
)

// Submitter accepts a transaction for guaranteed delivery to consensus. A
// nil return means the transaction is durably pending and will reach
// consensus or the epoch will end.
type Submitter interface {
	SubmitTransaction(tx *transaction.ConsensusTransaction) error
}
