// pkg/errors/submitter.go
package errors

// Submitter error codes
const (
	// SubmitterErrRejectingUserCerts indicates the epoch is closing and no
	// new user certificates are accepted
	SubmitterErrRejectingUserCerts = "SUBMITTER_REJECTING_USER_CERTS"
	// SubmitterErrMissingReconfigGuard indicates a user certificate was
	// submitted without a reconfiguration state guard
	SubmitterErrMissingReconfigGuard = "SUBMITTER_MISSING_RECONFIG_GUARD"
	// SubmitterErrSelfNotInCommittee indicates this validator is not a
	// member of the current committee
	SubmitterErrSelfNotInCommittee = "SUBMITTER_SELF_NOT_IN_COMMITTEE"
	// SubmitterErrConsensusConnection indicates the hand-off to the
	// consensus client failed
	SubmitterErrConsensusConnection = "SUBMITTER_CONSENSUS_CONNECTION"
	// SubmitterErrUnknownPeer indicates a connectivity event referenced a
	// peer with no validator mapping
	SubmitterErrUnknownPeer = "SUBMITTER_UNKNOWN_PEER"
)

// Submitter domain name
const SubmitterDomain = "submitter"

// Submitter operations
const (
	OpSubmit          = "Submit"
	OpSubmitRecovered = "SubmitRecovered"
	OpCloseEpoch      = "CloseEpoch"
)

// NewSubmitterError creates a new submitter error
func NewSubmitterError(code string, message string, err error) error {
	return &Error{
		Domain:   SubmitterDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}
