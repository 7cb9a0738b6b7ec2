// internal/committee/genesis.go
package committee

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
)

// GenesisMember describes one committee member in the genesis file.
type GenesisMember struct {
	// PublicKey is the hex-encoded compressed secp256k1 public key.
	PublicKey string `json:"public_key"`
	// Stake is the member's voting stake.
	Stake uint64 `json:"stake"`
	// PeerID is the transport-level peer identifier used by the
	// connectivity monitor.
	PeerID string `json:"peer_id"`
}

// Genesis is the on-disk committee description for one epoch.
type Genesis struct {
	Epoch   uint64          `json:"epoch"`
	Members []GenesisMember `json:"members"`
}

// LoadGenesis reads a genesis file and builds the committee plus the
// peer-to-validator mapping consumed by the connectivity monitor.
func LoadGenesis(path string) (*Committee, map[string]ValidatorID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read genesis file: %w", err)
	}

	var genesis Genesis
	if err := json.Unmarshal(data, &genesis); err != nil {
		return nil, nil, fmt.Errorf("failed to parse genesis file: %w", err)
	}

	members := make([]Member, 0, len(genesis.Members))
	peerToValidator := make(map[string]ValidatorID, len(genesis.Members))
	for _, gm := range genesis.Members {
		pubKey, err := hex.DecodeString(gm.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid public key %q: %w", gm.PublicKey, err)
		}
		if _, err := btcec.ParsePubKey(pubKey); err != nil {
			return nil, nil, fmt.Errorf("invalid public key %q: %w", gm.PublicKey, err)
		}

		id := IDFromPublicKey(pubKey)
		members = append(members, Member{ID: id, Stake: gm.Stake})
		if gm.PeerID != "" {
			peerToValidator[gm.PeerID] = id
		}
	}

	committee, err := New(genesis.Epoch, members)
	if err != nil {
		return nil, nil, err
	}

	return committee, peerToValidator, nil
}
