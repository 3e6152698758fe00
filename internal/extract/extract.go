// Package extract pulls a tool's JSON payload out of either a sidecar file or a
// section of the combined scan log.
//
// Nothing in this package returns an error: a payload that cannot be found or parsed
// is reported as nil, which callers treat as "the tool produced no result".
package extract

import (
	"bytes"
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// header matches any section header of the form "=== <name> ===".
var header = regexp.MustCompile(`={3}[ \t]+([^=\r\n]+?)[ \t]+={3}`)

// Extract returns the JSON payload located by a. A readable file at a.Path is
// preferred; otherwise the section a.Marker is scraped from source.
func Extract(source []byte, a model.Artifact) json.RawMessage {
	if a.Path != "" {
		if v := FromFile(a.Path); v != nil {
			return v
		}
	}
	if a.Marker == "" {
		return nil
	}
	return FromLog(source, a.Marker)
}

// FromFile parses the whole content of path.
func FromFile(path string) json.RawMessage {
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return parsePayload(b)
}

// FromLog finds the section headed by marker and parses its body.
func FromLog(source []byte, marker string) json.RawMessage {
	section, ok := Section(source, marker)
	if !ok {
		return nil
	}
	return parsePayload(section)
}

// Section returns the trimmed text between the header for marker and the next header
// (or end of text).
func Section(source []byte, marker string) ([]byte, bool) {
	re, err := regexp.Compile(`={3}[ \t]+` + regexp.QuoteMeta(strings.TrimSpace(marker)) + `[ \t]+={3}`)
	if err != nil {
		return nil, false
	}
	loc := re.FindIndex(source)
	if loc == nil {
		return nil, false
	}
	body := source[loc[1]:]
	if next := header.FindIndex(body); next != nil {
		body = body[:next[0]]
	}
	return bytes.TrimSpace(body), true
}

// Sections lists the header names present in source, in order.
func Sections(source []byte) []string {
	var out []string
	for _, m := range header.FindAllSubmatch(source, -1) {
		out = append(out, string(m[1]))
	}
	return out
}

// parsePayload tries the text as-is, then the outermost {...} span, then the
// outermost [...] span.
func parsePayload(b []byte) json.RawMessage {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	if v := valid(b); v != nil {
		return v
	}
	if v := valid(span(b, '{', '}')); v != nil {
		return v
	}
	return valid(span(b, '[', ']'))
}

func span(b []byte, open, close byte) []byte {
	i := bytes.IndexByte(b, open)
	j := bytes.LastIndexByte(b, close)
	if i < 0 || j <= i {
		return nil
	}
	return b[i : j+1]
}

func valid(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
