// Package normalize converts each scanner's native JSON into model.Vulnerability
// records. There is one adapter per scanner family; every adapter is pure and total:
// unknown shapes, wrong types and missing keys degrade to empty values, never errors.
package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// text decodes any JSON scalar into its string form. Objects, arrays and null become "".
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			*t = text(s)
		}
	case '{', '[', 'n':
	default:
		*t = text(b)
	}
	return nil
}

func (t text) number() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	return f, err == nil
}

// list decodes an array of raw elements; a lone object becomes a one-element list and
// anything else an empty one.
type list []json.RawMessage

func (l *list) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err == nil {
			*l = items
		}
	case '{':
		*l = list{append(json.RawMessage(nil), b...)}
	}
	return nil
}

// each decodes raw as either one T or an array of T and calls fn for every object
// element. Non-object elements are skipped; a field of the wrong type is left zero.
func each[T any](raw json.RawMessage, fn func(T)) {
	eachObject(raw, func(v T, _ json.RawMessage) { fn(v) })
}

// eachObject is each, also handing fn the element's raw bytes.
func eachObject[T any](raw json.RawMessage, fn func(T, json.RawMessage)) {
	var l list
	_ = l.UnmarshalJSON(raw)
	for _, item := range l {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			continue
		}
		var v T
		_ = json.Unmarshal(item, &v)
		fn(v, item)
	}
}

// hasKey reports whether the JSON object obj carries any of keys, matched
// case-insensitively like encoding/json matches field names.
func hasKey(obj json.RawMessage, keys ...string) bool {
	var m map[string]json.RawMessage
	if json.Unmarshal(obj, &m) != nil {
		return false
	}
	for k := range m {
		for _, want := range keys {
			if strings.EqualFold(k, want) {
				return true
			}
		}
	}
	return false
}

func first(vals ...text) string {
	for _, v := range vals {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func component(name, version text) string {
	n, v := first(name), first(version)
	if n != "" && v != "" {
		return n + "@" + v
	}
	return n
}

// ByTool dispatches raw to the adapter for tool. A nil raw yields an empty list.
func ByTool(tool model.ToolID, raw json.RawMessage) []model.Vulnerability {
	switch tool {
	case model.ToolSonar:
		vulns, _ := Quality(raw)
		return vulns
	case model.ToolSnyk:
		return Snyk(raw)
	case model.ToolTrivy:
		return Trivy(raw)
	case model.ToolOWASP:
		return DependencyCheck(raw)
	default:
		return []model.Vulnerability{}
	}
}
