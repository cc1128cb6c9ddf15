package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// playersField is the only payload field that drives queue expansion.
const playersField = "players"

// DecodePayload validates a response body as a JSON document and returns it
// as a compact raw message suitable for storing in an Attempt.
func DecodePayload(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode payload: empty body")
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("decode payload: invalid json")
	}
	return json.RawMessage(append([]byte(nil), trimmed...)), nil
}

// ExtractPlayers returns the identifiers listed in the payload's top-level
// "players" array, in order. A missing field, a non-object payload, or a
// non-array value yields nil. String entries are used verbatim; other scalar
// entries use their JSON text. Empty identifiers are skipped.
func ExtractPlayers(payload json.RawMessage) []string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}
	raw, ok := doc[playersField]
	if !ok {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	players := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = bytes.TrimSpace(entry)
		if bytes.Equal(entry, []byte("null")) {
			continue
		}
		var name string
		if err := json.Unmarshal(entry, &name); err != nil {
			name = string(entry)
		}
		if name == "" {
			continue
		}
		players = append(players, name)
	}
	return players
}
