package identity

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	config "leadrouter/app/configs"
)

// Fields holds the three lead-matching keys a channel may supply.
type Fields struct {
	ExternalID string
	Phone      string
	Email      string
}

// FromPayload fills the empty members of given from the opaque payload
// using the configured gjson paths. Explicitly supplied fields are
// never overridden; bots that bury identity inside the payload still
// dedupe correctly.
func FromPayload(given Fields, payload json.RawMessage, paths config.IdentityPathsConfig) Fields {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return given
	}
	if given.ExternalID == "" {
		given.ExternalID = lookup(payload, paths.ExternalID)
	}
	if given.Phone == "" {
		given.Phone = lookup(payload, paths.Phone)
	}
	if given.Email == "" {
		given.Email = lookup(payload, paths.Email)
	}
	return given
}

func lookup(payload json.RawMessage, path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	res := gjson.GetBytes(payload, path)
	if !res.Exists() || res.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(res.String())
}
