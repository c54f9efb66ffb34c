// Package ident parses the tagged identifiers accepted by the
// management API.
//
// The accepted grammar is [<tag>:]<value> where <tag> is a CAIP-2 chain
// id (eip155:<decimal>) or a known alias, and <value> is an HTTP(S) URL
// or a base58 content identifier ("Qm...").
package ident

import (
	"fmt"
	"regexp"
	"strings"

	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

// caip2Aliases maps human names to canonical CAIP-2 ids.
var caip2Aliases = map[string]string{
	"mainnet":          "eip155:1",
	"goerli":           "eip155:5",
	"sepolia":          "eip155:11155111",
	"arbitrum-one":     "eip155:42161",
	"arbitrum-goerli":  "eip155:421613",
	"arbitrum-sepolia": "eip155:421614",
}

var caip2Pattern = regexp.MustCompile(`^eip155:[0-9]+$`)

// ResolveChainID canonicalises a network name: aliases resolve to their
// CAIP-2 form and any well-formed eip155:<decimal> id maps to itself.
func ResolveChainID(network string) (string, error) {
	if caip2Pattern.MatchString(network) {
		return network, nil
	}
	if id, ok := caip2Aliases[network]; ok {
		return id, nil
	}
	return "", ierrors.Newf(ierrors.CodeInvalidProtocolNetwork,
		"invalid protocol network '%s': expected 'eip155:<decimal>' or a known alias", network)
}

// ResolveChainAlias returns the human alias for a CAIP-2 id, or the id
// itself when no alias is registered.
func ResolveChainAlias(caip2 string) string {
	for alias, id := range caip2Aliases {
		if id == caip2 {
			return alias
		}
	}
	return caip2
}

// TaggedIdentifier is the parsed form of [<tag>:]<value>.
type TaggedIdentifier struct {
	// ProtocolNetwork is the canonical CAIP-2 id, or empty when the
	// input carried no tag.
	ProtocolNetwork string
	Value           string
}

// Parse splits and validates a tagged identifier. Failures name the
// expected grammar and the offset of the offending segment.
func Parse(input string) (TaggedIdentifier, error) {
	value := input
	network := ""

	// An "eip155:<n>:" tag contains a colon itself, so try the two-colon
	// form first.
	if strings.HasPrefix(input, "eip155:") {
		if idx := strings.Index(input[len("eip155:"):], ":"); idx >= 0 {
			split := len("eip155:") + idx
			network, value = input[:split], input[split+1:]
		}
	} else if idx := strings.Index(input, ":"); idx >= 0 && !strings.Contains(input[:idx], "/") {
		// URLs carry "://"; only treat the prefix as a tag when the value
		// that follows is not the URL scheme separator.
		if !strings.HasPrefix(input[idx:], "://") {
			network, value = input[:idx], input[idx+1:]
		}
	}

	if network != "" {
		resolved, err := ResolveChainID(network)
		if err != nil {
			return TaggedIdentifier{}, ierrors.Newf(ierrors.CodeInvalidIdentifier,
				"invalid identifier '%s': expected '[<network>:]<url|cid>', bad network tag at offset 0", input)
		}
		network = resolved
	}

	if err := validateValue(input, value); err != nil {
		return TaggedIdentifier{}, err
	}
	return TaggedIdentifier{ProtocolNetwork: network, Value: value}, nil
}

func validateValue(input, value string) error {
	offset := len(input) - len(value)
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return nil
	}
	if value == "global" {
		return nil
	}
	if strings.HasPrefix(value, "Qm") && len(value) >= 46 {
		return nil
	}
	return ierrors.Newf(ierrors.CodeInvalidIdentifier,
		"invalid identifier '%s': expected '[<network>:]<url|cid>', bad value at offset %d", input, offset)
}

// MustChainID is ResolveChainID for statically known inputs.
func MustChainID(network string) string {
	id, err := ResolveChainID(network)
	if err != nil {
		panic(fmt.Sprintf("ident: %v", err))
	}
	return id
}
