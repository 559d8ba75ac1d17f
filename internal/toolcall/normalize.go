// Package toolcall normalizes and executes model-requested tool calls.
// Models emit tool requests in several shapes (nested under a
// "function" key or flat, string-encoded JSON arguments, aliased field
// names); everything is normalized at this boundary into one canonical
// Call record before any other code touches it.
package toolcall

import (
	"encoding/json"
)

// Call is the canonical tool-call record.
type Call struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Field alias tables, kept as pure data. The canonical name is first.
var (
	nameAliases  = []string{"name", "tool_name", "toolname"}
	argAliases   = []string{"arguments", "args", "params", "parameters"}
	batchAliases = []string{"tool_calls", "toolcalls", "tools"}
)

// Name extracts the tool name from a raw call, tolerating aliased
// fields and a nested "function" object.
func Name(raw map[string]any) string {
	if fn, ok := raw["function"].(map[string]any); ok {
		if name := firstString(fn, nameAliases); name != "" {
			return name
		}
	}
	return firstString(raw, nameAliases)
}

// Arguments extracts the argument map from a raw call, tolerating
// aliased fields, a nested "function" object, and string-encoded JSON.
func Arguments(raw map[string]any) map[string]any {
	if fn, ok := raw["function"].(map[string]any); ok {
		if args := firstArgs(fn); args != nil {
			return args
		}
	}
	return firstArgs(raw)
}

// Normalize converts a raw call into the canonical record. ok is false
// when no tool name could be found under any alias.
func Normalize(raw map[string]any) (Call, bool) {
	name := Name(raw)
	if name == "" {
		return Call{}, false
	}
	id, _ := raw["id"].(string)
	return Call{ID: id, Name: name, Arguments: Arguments(raw)}, true
}

// NormalizeBatch normalizes a list of raw calls, dropping entries with
// no recognizable tool name.
func NormalizeBatch(raw []map[string]any) []Call {
	var calls []Call
	for _, r := range raw {
		if c, ok := Normalize(r); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

// batchFrom pulls a raw call list out of a payload object keyed by any
// of the batch aliases.
func batchFrom(payload map[string]any) []map[string]any {
	for _, key := range batchAliases {
		list, ok := payload[key].([]any)
		if !ok {
			continue
		}
		var raw []map[string]any
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				raw = append(raw, m)
			}
		}
		return raw
	}
	return nil
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstArgs(m map[string]any) map[string]any {
	for _, k := range argAliases {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch args := v.(type) {
		case map[string]any:
			return args
		case string:
			// String-encoded JSON arguments.
			var decoded map[string]any
			if err := json.Unmarshal([]byte(args), &decoded); err == nil {
				return decoded
			}
		}
	}
	return nil
}
