package multinetwork

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

type side struct {
	id string
}

func (s side) Identifier() string { return s.id }

func TestNewPairsByIdentifier(t *testing.T) {
	multi, err := New(
		[]side{{"eip155:1"}, {"eip155:42161"}},
		[]side{{"eip155:1"}, {"eip155:42161"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"eip155:1", "eip155:42161"}, multi.Identifiers())

	n, ok := multi.Network("eip155:42161")
	require.True(t, ok)
	assert.Equal(t, "eip155:42161", n.Identifier())

	_, ok = multi.Operator("eip155:5")
	assert.False(t, ok)
}

func TestNewLengthMismatch(t *testing.T) {
	_, err := New([]side{{"eip155:1"}}, []side{})
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeMisconfiguration))
}

func TestNewIdentifierMismatch(t *testing.T) {
	_, err := New([]side{{"eip155:1"}}, []side{{"eip155:42161"}})
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeMisconfiguration))
	assert.Contains(t, err.Error(), "eip155:1")
	assert.Contains(t, err.Error(), "eip155:42161")
}

func TestNewDuplicateNetwork(t *testing.T) {
	_, err := New(
		[]side{{"eip155:1"}, {"eip155:1"}},
		[]side{{"eip155:1"}, {"eip155:1"}},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured twice")
}

func TestMapOperatorsVisitsAll(t *testing.T) {
	multi, err := New(
		[]side{{"eip155:1"}, {"eip155:42161"}},
		[]side{{"eip155:1"}, {"eip155:42161"}},
	)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]bool{}
	err = multi.MapOperators(context.Background(), func(ctx context.Context, o side) error {
		mu.Lock()
		seen[o.Identifier()] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"eip155:1": true, "eip155:42161": true}, seen)
}

func TestMapNetworksPropagatesError(t *testing.T) {
	multi, err := New(
		[]side{{"eip155:1"}, {"eip155:42161"}},
		[]side{{"eip155:1"}, {"eip155:42161"}},
	)
	require.NoError(t, err)

	boom := errors.New("subgraph unreachable")
	err = multi.MapNetworks(context.Background(), func(ctx context.Context, n side) error {
		if n.Identifier() == "eip155:42161" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestMapPairsKeepsPairing(t *testing.T) {
	multi, err := New(
		[]side{{"eip155:1"}, {"eip155:42161"}},
		[]side{{"eip155:1"}, {"eip155:42161"}},
	)
	require.NoError(t, err)

	err = multi.MapPairs(context.Background(), func(ctx context.Context, n, o side) error {
		assert.Equal(t, n.Identifier(), o.Identifier())
		return nil
	})
	require.NoError(t, err)
}

func TestMapNetworksCollectsKeyedResults(t *testing.T) {
	multi, err := New(
		[]side{{"eip155:1"}, {"eip155:42161"}},
		[]side{{"eip155:1"}, {"eip155:42161"}},
	)
	require.NoError(t, err)

	out, err := MapNetworks(context.Background(), multi, func(ctx context.Context, n side) (int, error) {
		return len(n.Identifier()), nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"eip155:1": 8, "eip155:42161": 12}, out)
}

func TestMapNetworksResultErrorDiscardsPartial(t *testing.T) {
	multi, err := New(
		[]side{{"eip155:1"}, {"eip155:42161"}},
		[]side{{"eip155:1"}, {"eip155:42161"}},
	)
	require.NoError(t, err)

	boom := errors.New("subgraph unreachable")
	out, err := MapNetworks(context.Background(), multi, func(ctx context.Context, n side) (int, error) {
		if n.Identifier() == "eip155:42161" {
			return 0, boom
		}
		return 1, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, out)
}

func TestMapOperatorsCollectsKeyedResults(t *testing.T) {
	multi, err := New(
		[]side{{"eip155:1"}, {"eip155:42161"}},
		[]side{{"eip155:1"}, {"eip155:42161"}},
	)
	require.NoError(t, err)

	out, err := MapOperators(context.Background(), multi, func(ctx context.Context, o side) (string, error) {
		return o.Identifier(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"eip155:1":     "eip155:1",
		"eip155:42161": "eip155:42161",
	}, out)
}

func TestMapPairsCollectsKeyedResults(t *testing.T) {
	multi, err := New(
		[]side{{"eip155:1"}, {"eip155:42161"}},
		[]side{{"eip155:1"}, {"eip155:42161"}},
	)
	require.NoError(t, err)

	out, err := MapPairs(context.Background(), multi, func(ctx context.Context, n, o side) (bool, error) {
		return n.Identifier() == o.Identifier(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"eip155:1": true, "eip155:42161": true}, out)
}
