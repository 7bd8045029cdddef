// Package options parses chunk execution options. Options arrive as
// raw comma-separated key=value text attached to a queue unit and are
// parsed at unit selection time; a parse failure keeps the unit queued
// and stalls its document until the caller repairs the chunk.
package options

import (
	"fmt"
	"strings"
)

// ExecOptions holds the parsed execution options for one chunk. The
// queue itself only threads these into the execution context; the
// typed accessors exist for the console side (output capture, echo).
type ExecOptions struct {
	values map[string]string
}

// Recognized option keys. Unknown keys are kept and exposed via Get
// so downstream consumers can interpret them.
const (
	KeyEval    = "eval"
	KeyEcho    = "echo"
	KeyInclude = "include"
	KeyOutput  = "output"
)

// Parse parses raw option text. An empty string yields the defaults.
// Each entry must be key=value; keys are lowercased, values keep
// their case with surrounding quotes stripped.
func Parse(raw string) (*ExecOptions, error) {
	opts := &ExecOptions{values: make(map[string]string)}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return opts, nil
	}

	for _, field := range splitTop(raw) {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, found := strings.Cut(field, "=")
		if !found {
			return nil, fmt.Errorf("malformed chunk option %q: expected key=value", field)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return nil, fmt.Errorf("malformed chunk option %q: empty key", field)
		}
		value = strings.TrimSpace(value)
		unquoted, err := unquote(value)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk option %q: %w", field, err)
		}
		opts.values[key] = unquoted
	}
	return opts, nil
}

// splitTop splits on commas that are not inside quotes.
func splitTop(raw string) []string {
	var fields []string
	var quote byte
	start := 0
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ',':
			fields = append(fields, raw[start:i])
			start = i + 1
		}
	}
	fields = append(fields, raw[start:])
	return fields
}

func unquote(value string) (string, error) {
	if len(value) == 0 {
		return value, nil
	}
	c := value[0]
	if c != '\'' && c != '"' {
		return value, nil
	}
	if len(value) < 2 || value[len(value)-1] != c {
		return "", fmt.Errorf("unbalanced quote")
	}
	return value[1 : len(value)-1], nil
}

// Get returns the raw value for a key.
func (o *ExecOptions) Get(key string) (string, bool) {
	v, ok := o.values[strings.ToLower(key)]
	return v, ok
}

func (o *ExecOptions) boolOption(key string, def bool) bool {
	v, ok := o.values[key]
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "t", "yes", "1":
		return true
	case "false", "f", "no", "0":
		return false
	default:
		return def
	}
}

// Eval reports whether the chunk's code should be evaluated at all.
// Defaults to true.
func (o *ExecOptions) Eval() bool {
	return o.boolOption(KeyEval, true)
}

// Echo reports whether submitted source should be echoed back in the
// console transcript. Defaults to true.
func (o *ExecOptions) Echo() bool {
	return o.boolOption(KeyEcho, true)
}

// Include reports whether the chunk's output is included in the
// rendered document. Defaults to true.
func (o *ExecOptions) Include() bool {
	return o.boolOption(KeyInclude, true)
}

// Output returns the output capture mode ("all" when unspecified).
func (o *ExecOptions) Output() string {
	if v, ok := o.values[KeyOutput]; ok && v != "" {
		return v
	}
	return "all"
}
