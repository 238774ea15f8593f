package lsp

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// baseCapabilities is the capability payload every session advertises
// during the initialize handshake.
const baseCapabilities = `{
	"workspace": {
		"workspaceFolders": true,
		"executeCommand": {"dynamicRegistration": false}
	},
	"textDocument": {
		"synchronization": {"openClose": true},
		"publishDiagnostics": {"relatedInformation": true}
	}
}`

// capabilityExtensions are protocol extensions merged into the base
// payload for every session. editsNearCursor opts in to clangd's
// completion behavior for edits around the cursor position.
var capabilityExtensions = map[string]any{
	"textDocument.completion.editsNearCursor": true,
}

// Capabilities returns the capability advertisement for the initialize
// handshake, with all extensions applied.
func Capabilities() json.RawMessage {
	caps := []byte(baseCapabilities)
	for _, path := range sortedKeys(capabilityExtensions) {
		out, err := sjson.SetBytes(caps, path, capabilityExtensions[path])
		if err != nil {
			continue
		}
		caps = out
	}
	return caps
}

// MergeInitializationOptions merges override fields into a base
// initialization payload. Keys use dotted paths for nested fields, so
// {"compilationDatabasePath": dir} and {"index.background": false} both
// land where the server expects them. A nil base starts from an empty
// object.
func MergeInitializationOptions(base json.RawMessage, overrides map[string]any) (json.RawMessage, error) {
	if len(base) == 0 {
		base = json.RawMessage(`{}`)
	}
	if !gjson.ValidBytes(base) {
		return nil, fmt.Errorf("invalid initialization payload: %s", base)
	}
	merged := []byte(base)
	for _, key := range sortedKeys(overrides) {
		out, err := sjson.SetBytes(merged, key, overrides[key])
		if err != nil {
			return nil, fmt.Errorf("merge option %q: %w", key, err)
		}
		merged = out
	}
	return merged, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
