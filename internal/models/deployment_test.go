package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCID = "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy"

func TestDeploymentIDRoundTrip(t *testing.T) {
	id, err := DeploymentIDFromBase58(testCID)
	require.NoError(t, err)

	// base58 -> hex -> base58 is the identity
	hexForm := id.Hex()
	fromHex, err := DeploymentIDFromHex(hexForm)
	require.NoError(t, err)
	assert.Equal(t, id, fromHex)
	assert.Equal(t, testCID, fromHex.Base58())

	// ParseDeploymentID accepts both forms
	fromParse, err := ParseDeploymentID(hexForm)
	require.NoError(t, err)
	assert.Equal(t, id, fromParse)
	fromParse, err = ParseDeploymentID(testCID)
	require.NoError(t, err)
	assert.Equal(t, id, fromParse)
}

func TestDeploymentIDFromBase58Invalid(t *testing.T) {
	cases := []string{
		"",
		"notacid",
		"Qmshort",
		"0x1234",
	}
	for _, c := range cases {
		_, err := DeploymentIDFromBase58(c)
		assert.Error(t, err, "input %q", c)
	}
}

func TestDeploymentIDFromHexInvalid(t *testing.T) {
	_, err := DeploymentIDFromHex("0x1234")
	assert.Error(t, err)
	_, err = DeploymentIDFromHex("zzzz")
	assert.Error(t, err)
}

func TestDeploymentIDJSON(t *testing.T) {
	id, err := DeploymentIDFromBase58(testCID)
	require.NoError(t, err)

	raw, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+testCID+`"`, string(raw))

	var decoded DeploymentID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id, decoded)
}

func TestDeploymentIDString(t *testing.T) {
	id, err := DeploymentIDFromBase58(testCID)
	require.NoError(t, err)
	assert.Equal(t, testCID, id.String())
}
