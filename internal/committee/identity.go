// internal/committee/identity.go
package committee

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcutil/base58"
)

// ValidatorID is the stable, opaque identity of one committee member. It is
// derived from the validator's compressed secp256k1 public key.
type ValidatorID string

// IDFromPublicKey derives a validator identity from a compressed public key.
func IDFromPublicKey(pubKey []byte) ValidatorID {
	sha := sha256.New()
	sha.Write(pubKey)
	hash := sha.Sum(nil)
	return ValidatorID(base58.Encode(hash[:20]))
}

// Keypair holds a validator's signing key pair and derived identity.
type Keypair struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  []byte
	ID         ValidatorID
}

// NewKeypair creates a new validator key pair with a unique identity.
func NewKeypair() (*Keypair, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	pubKey := privateKey.PubKey().SerializeCompressed()

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  pubKey,
		ID:         IDFromPublicKey(pubKey),
	}, nil
}

// ExportPrivateKey exports the private key as a hex string.
func (k *Keypair) ExportPrivateKey() string {
	return hex.EncodeToString(k.PrivateKey.Serialize())
}

// ImportKeypair imports a key pair from a private key hex string.
func ImportKeypair(privateKeyHex string) (*Keypair, error) {
	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key format: %w", err)
	}

	privateKey, _ := btcec.PrivKeyFromBytes(privateKeyBytes)
	if privateKey == nil {
		return nil, errors.New("invalid private key")
	}

	pubKey := privateKey.PubKey().SerializeCompressed()

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  pubKey,
		ID:         IDFromPublicKey(pubKey),
	}, nil
}

// Sign signs a message with the validator's private key.
func (k *Keypair) Sign(message []byte) ([]byte, error) {
	signature := ecdsa.Sign(k.PrivateKey, message)
	return signature.Serialize(), nil
}

// VerifySignature verifies a signature against a validator's public key.
func VerifySignature(pubKey, message, signature []byte) (bool, error) {
	parsedPubKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to parse public key: %w", err)
	}

	parsedSig, err := ecdsa.ParseSignature(signature)
	if err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}

	return parsedSig.Verify(message, parsedPubKey), nil
}
