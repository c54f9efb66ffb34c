package models

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// DeploymentID is the content address of a subgraph deployment.
//
// The canonical wire form on chain is the raw 32-byte sha2-256 digest;
// the human form is the base58 multihash ("Qm...", sha2-256 prefix
// 0x1220). Both forms round-trip exactly.
type DeploymentID [32]byte

// multihash prefix for sha2-256 with 32-byte digest
var sha256Prefix = []byte{0x12, 0x20}

// DeploymentIDFromBase58 parses a "Qm..." base58 multihash.
func DeploymentIDFromBase58(s string) (DeploymentID, error) {
	var d DeploymentID
	if !strings.HasPrefix(s, "Qm") || len(s) < 46 {
		return d, fmt.Errorf("invalid deployment id %q: expected base58 multihash starting with 'Qm'", s)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return d, fmt.Errorf("invalid deployment id %q: %w", s, err)
	}
	if len(raw) != 34 || !bytes.Equal(raw[:2], sha256Prefix) {
		return d, fmt.Errorf("invalid deployment id %q: not a sha2-256 multihash", s)
	}
	copy(d[:], raw[2:])
	return d, nil
}

// DeploymentIDFromHex parses the 32-byte hex form, with or without the
// 0x prefix.
func DeploymentIDFromHex(s string) (DeploymentID, error) {
	var d DeploymentID
	h := strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(h)
	if err != nil {
		return d, fmt.Errorf("invalid deployment id %q: %w", s, err)
	}
	if len(raw) != 32 {
		return d, fmt.Errorf("invalid deployment id %q: expected 32 bytes, got %d", s, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// ParseDeploymentID accepts either the base58 or the hex form.
func ParseDeploymentID(s string) (DeploymentID, error) {
	if strings.HasPrefix(s, "Qm") {
		return DeploymentIDFromBase58(s)
	}
	return DeploymentIDFromHex(s)
}

// Base58 returns the "Qm..." multihash form.
func (d DeploymentID) Base58() string {
	return base58.Encode(append(append([]byte{}, sha256Prefix...), d[:]...))
}

// Hex returns the 0x-prefixed 32-byte hex form.
func (d DeploymentID) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

// Bytes32 returns the raw digest for ABI encoding.
func (d DeploymentID) Bytes32() [32]byte {
	return [32]byte(d)
}

// String returns the base58 form, the form used in logs and messages.
func (d DeploymentID) String() string {
	return d.Base58()
}

// MarshalJSON encodes the base58 form.
func (d DeploymentID) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Base58())
}

// UnmarshalJSON accepts either the base58 or the hex form.
func (d *DeploymentID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDeploymentID(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
