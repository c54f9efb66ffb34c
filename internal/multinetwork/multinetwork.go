// Package multinetwork fans agent operations out across the configured
// protocol networks.
package multinetwork

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

// Network is one protocol network's read surface and collaborators.
type Network interface {
	Identifier() string
}

// Operator is the acting side of one network: queue, executor and
// reconciler bound to that network's operator wallet.
type Operator interface {
	Identifier() string
}

// MultiNetworks pairs each network with its operator and exposes keyed
// fan-out over the pairs. Construction validates the pairing; a
// mismatch is fatal at startup.
type MultiNetworks[N Network, O Operator] struct {
	networks  []N
	operators []O
	index     map[string]int
}

// New validates that networks and operators pair 1:1 by identifier, in
// order.
func New[N Network, O Operator](networks []N, operators []O) (*MultiNetworks[N, O], error) {
	if len(networks) != len(operators) {
		return nil, ierrors.Newf(ierrors.CodeMisconfiguration,
			"%d networks configured against %d operators", len(networks), len(operators))
	}
	index := make(map[string]int, len(networks))
	for i, n := range networks {
		if n.Identifier() != operators[i].Identifier() {
			return nil, ierrors.Newf(ierrors.CodeMisconfiguration,
				"network '%s' is paired with operator '%s'", n.Identifier(), operators[i].Identifier())
		}
		if _, dup := index[n.Identifier()]; dup {
			return nil, ierrors.Newf(ierrors.CodeMisconfiguration,
				"network '%s' is configured twice", n.Identifier())
		}
		index[n.Identifier()] = i
	}
	return &MultiNetworks[N, O]{networks: networks, operators: operators, index: index}, nil
}

// Network returns the network with the given identifier.
func (m *MultiNetworks[N, O]) Network(identifier string) (N, bool) {
	i, ok := m.index[identifier]
	if !ok {
		var zero N
		return zero, false
	}
	return m.networks[i], true
}

// Operator returns the operator with the given identifier.
func (m *MultiNetworks[N, O]) Operator(identifier string) (O, bool) {
	i, ok := m.index[identifier]
	if !ok {
		var zero O
		return zero, false
	}
	return m.operators[i], true
}

// Identifiers lists the configured network identifiers in order.
func (m *MultiNetworks[N, O]) Identifiers() []string {
	ids := make([]string, len(m.networks))
	for i, n := range m.networks {
		ids[i] = n.Identifier()
	}
	return ids
}

// MapNetworks applies f to every network concurrently. The first error
// cancels the rest.
func (m *MultiNetworks[N, O]) MapNetworks(ctx context.Context, f func(context.Context, N) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range m.networks {
		g.Go(func() error { return f(ctx, n) })
	}
	return g.Wait()
}

// MapOperators applies f to every operator concurrently.
func (m *MultiNetworks[N, O]) MapOperators(ctx context.Context, f func(context.Context, O) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, o := range m.operators {
		g.Go(func() error { return f(ctx, o) })
	}
	return g.Wait()
}

// MapPairs applies f to every (network, operator) pair concurrently.
func (m *MultiNetworks[N, O]) MapPairs(ctx context.Context, f func(context.Context, N, O) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range m.networks {
		n, o := m.networks[i], m.operators[i]
		g.Go(func() error { return f(ctx, n, o) })
	}
	return g.Wait()
}

// The result-collecting mappers live at package level: a method cannot
// introduce the result type parameter.

// MapNetworks applies f to every network concurrently and returns the
// results keyed by network identifier. The first error cancels the rest
// and discards the partial map.
func MapNetworks[N Network, O Operator, R any](ctx context.Context, m *MultiNetworks[N, O], f func(context.Context, N) (R, error)) (map[string]R, error) {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	out := make(map[string]R, len(m.networks))
	for _, n := range m.networks {
		g.Go(func() error {
			r, err := f(ctx, n)
			if err != nil {
				return err
			}
			mu.Lock()
			out[n.Identifier()] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MapOperators applies f to every operator concurrently and returns the
// results keyed by network identifier.
func MapOperators[N Network, O Operator, R any](ctx context.Context, m *MultiNetworks[N, O], f func(context.Context, O) (R, error)) (map[string]R, error) {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	out := make(map[string]R, len(m.operators))
	for _, o := range m.operators {
		g.Go(func() error {
			r, err := f(ctx, o)
			if err != nil {
				return err
			}
			mu.Lock()
			out[o.Identifier()] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MapPairs applies f to every (network, operator) pair concurrently and
// returns the results keyed by network identifier.
func MapPairs[N Network, O Operator, R any](ctx context.Context, m *MultiNetworks[N, O], f func(context.Context, N, O) (R, error)) (map[string]R, error) {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	out := make(map[string]R, len(m.networks))
	for i := range m.networks {
		n, o := m.networks[i], m.operators[i]
		g.Go(func() error {
			r, err := f(ctx, n, o)
			if err != nil {
				return err
			}
			mu.Lock()
			out[n.Identifier()] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
