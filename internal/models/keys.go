package models

import (
	"fmt"
	"strings"
)

// Capability verbs accepted in key grants.
var capabilityVerbs = []string{"GET", "POST", "PUT", "DELETE"}

// ApiKey grants a caller a set of capability tokens. Each token is an HTTP
// verb concatenated with a target, for example "GETelements" or
// "DELETEannotation". Holding any one of the tokens an operation names is
// sufficient to perform it.
type ApiKey struct {
	Key          string   `json:"key"`
	Capabilities []string `json:"capabilities"`
}

// Validate checks the structural rules for a key record before it is
// persisted.
func (k ApiKey) Validate() error {
	if strings.TrimSpace(k.Key) == "" {
		return fmt.Errorf("api key: key is required")
	}
	if strings.ContainsAny(k.Key, " \t\n") {
		return fmt.Errorf("api key %q: key must not contain whitespace", k.Key)
	}
	for _, capability := range k.Capabilities {
		if err := validateCapability(capability); err != nil {
			return fmt.Errorf("api key %q: %w", k.Key, err)
		}
	}
	return nil
}

func validateCapability(token string) error {
	for _, verb := range capabilityVerbs {
		if rest, ok := strings.CutPrefix(token, verb); ok {
			if rest == "" {
				return fmt.Errorf("capability %q: missing target", token)
			}
			return nil
		}
	}
	return fmt.Errorf("capability %q: unknown verb prefix", token)
}

// ToObject converts the key record into its stored representation.
func (k ApiKey) ToObject() Object {
	capabilities := make([]any, len(k.Capabilities))
	for i, capability := range k.Capabilities {
		capabilities[i] = capability
	}
	return Object{
		"key":          k.Key,
		"capabilities": capabilities,
	}
}

// ApiKeyFromObject reconstructs a key record from its stored representation.
func ApiKeyFromObject(obj Object) ApiKey {
	key := ApiKey{}
	key.Key, _ = obj["key"].(string)
	if raw, ok := obj["capabilities"].([]any); ok {
		for _, item := range raw {
			if capability, ok := item.(string); ok {
				key.Capabilities = append(key.Capabilities, capability)
			}
		}
	}
	return key
}
