package enrichment

import (
	"regexp"
	"sort"
	"strings"
)

// Attribute is one generated name/value pair.
type Attribute struct {
	Name  string `json:"attribute_name"`
	Value string `json:"attribute_value"`
}

// AttributeParse is the outcome of parsing a generated attribute answer.
// When OK is false, Reason says why and the caller falls back.
type AttributeParse struct {
	OK         bool
	Attributes []Attribute
	Reason     string
}

// ParseAttributes reads "key:value|key:value". Each segment is split on its
// first colon and both sides are trimmed. A repeated key keeps its first
// position and takes the last value.
func ParseAttributes(text string) AttributeParse {
	if strings.TrimSpace(text) == "" {
		return AttributeParse{Reason: "empty response"}
	}

	var attrs []Attribute
	index := map[string]int{}
	for _, segment := range strings.Split(text, "|") {
		name, value, found := strings.Cut(segment, ":")
		if !found {
			return AttributeParse{Reason: "segment without a colon: " + strings.TrimSpace(segment)}
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if i, ok := index[name]; ok {
			attrs[i].Value = value
			continue
		}
		index[name] = len(attrs)
		attrs = append(attrs, Attribute{Name: name, Value: value})
	}
	return AttributeParse{OK: true, Attributes: attrs}
}

// RankParse is the outcome of parsing a generated category ranking.
type RankParse struct {
	OK     bool
	Paths  [][]string
	Reason string
}

var listMarker = regexp.MustCompile(`^\s*(\d+\.|\*|-)\s+`)

// ParseRanking reads one category path per line with segments joined by
// "->". List markers are stripped, lines with a segment count other than
// segments are dropped and duplicates keep their first position.
func ParseRanking(text string, segments int) RankParse {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if strings.TrimSpace(text) == "" {
		return RankParse{Reason: "empty response"}
	}

	var paths [][]string
	for _, line := range lines {
		line = listMarker.ReplaceAllString(strings.TrimSpace(line), "")
		path := strings.Split(line, "->")
		if len(path) != segments {
			continue
		}
		paths = append(paths, path)
	}

	paths = dedupePaths(paths)
	if len(paths) == 0 {
		return RankParse{Reason: "no responses returned in expected format"}
	}
	return RankParse{OK: true, Paths: paths}
}

func dedupePaths(paths [][]string) [][]string {
	seen := make(map[string]struct{}, len(paths))
	out := make([][]string, 0, len(paths))
	for _, p := range paths {
		key := strings.Join(p, "\x00")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// sortedAttributes renders a stored attribute map in name order.
func sortedAttributes(m map[string]string) []Attribute {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Attribute, len(names))
	for i, name := range names {
		out[i] = Attribute{Name: name, Value: m[name]}
	}
	return out
}
