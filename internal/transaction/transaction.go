// internal/transaction/transaction.go
package transaction

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/cmatc13/sequencer/internal/committee"
)

// Kind defines the kind of consensus transaction
type Kind string

const (
	// UserCertificate is a finalized client transaction ready for
	// consensus ordering
	UserCertificate Kind = "USER_CERTIFICATE"
	// EndOfPublish is the control message signaling this validator will
	// submit no further user certificates for the current epoch
	EndOfPublish Kind = "END_OF_PUBLISH"
)

// Digest is the content digest of a user certificate.
type Digest [32]byte

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalJSON implements the json.Marshaler interface.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(d[:]))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid digest encoding: %w", err)
	}
	if len(raw) != len(d) {
		return fmt.Errorf("invalid digest length %d", len(raw))
	}
	copy(d[:], raw)
	return nil
}

// Key identifies one logical submission. It is stable across restarts so
// the pending set can be reconciled during recovery.
type Key string

// ConsensusTransaction is the unit handed to the consensus engine. It is
// immutable once created.
type ConsensusTransaction struct {
	// TrackingID correlates log lines for one submission. It is not part
	// of the transaction identity.
	TrackingID string `json:"tracking_id"`
	// Kind is the kind of transaction
	Kind Kind `json:"kind"`
	// Certificate is the opaque certificate payload (user certificates only)
	Certificate []byte `json:"certificate,omitempty"`
	// Digest is the certificate content digest (user certificates only)
	Digest Digest `json:"digest,omitempty"`
	// Origin is the validator that produced this message (end-of-publish only)
	Origin committee.ValidatorID `json:"origin,omitempty"`
}

// NewUserCertificate creates a consensus transaction carrying a finalized
// user certificate.
func NewUserCertificate(payload []byte) *ConsensusTransaction {
	return &ConsensusTransaction{
		TrackingID:  uuid.New().String(),
		Kind:        UserCertificate,
		Certificate: payload,
		Digest:      blake2b.Sum256(payload),
	}
}

// NewEndOfPublish creates the end-of-publish control message for the given
// validator.
func NewEndOfPublish(origin committee.ValidatorID) *ConsensusTransaction {
	return &ConsensusTransaction{
		TrackingID: uuid.New().String(),
		Kind:       EndOfPublish,
		Origin:     origin,
	}
}

// IsCertificateKey reports whether a transaction key belongs to a user
// certificate.
func IsCertificateKey(key Key) bool {
	return strings.HasPrefix(string(key), "cert:")
}

// Key returns the transaction key used to track pending state and
// acknowledgment.
func (tx *ConsensusTransaction) Key() Key {
	switch tx.Kind {
	case UserCertificate:
		return Key("cert:" + tx.Digest.String())
	case EndOfPublish:
		return Key("eop:" + string(tx.Origin))
	default:
		return Key("unknown:" + tx.TrackingID)
	}
}

// IsUserCertificate reports whether this is a user certificate.
func (tx *ConsensusTransaction) IsUserCertificate() bool {
	return tx.Kind == UserCertificate
}

// IsEndOfPublish reports whether this is an end-of-publish message.
func (tx *ConsensusTransaction) IsEndOfPublish() bool {
	return tx.Kind == EndOfPublish
}

// ToJSON serializes the transaction to JSON
func (tx *ConsensusTransaction) ToJSON() ([]byte, error) {
	return json.Marshal(tx)
}

// FromJSON deserializes a transaction from JSON
func FromJSON(data []byte) (*ConsensusTransaction, error) {
	var tx ConsensusTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to deserialize consensus transaction: %w", err)
	}
	return &tx, nil
}
