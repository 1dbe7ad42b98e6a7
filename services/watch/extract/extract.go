// Package extract digs session-like records out of arbitrary captured
// payloads. The traversal is deliberately dumb: it walks every node of a
// decoded JSON tree once and asks an extraction rule to score each
// mapping it meets.
package extract

import (
	"encoding/json"
	"strings"
)

// Rule decides whether a mapping node looks like a bookable session.
// A score >= 1 marks the node as a candidate; rules normalize their own
// confidence so stricter and looser variants can coexist.
type Rule interface {
	Name() string
	Score(node map[string]any) float64
}

// KeyCountRule scores a node by how many of its keys, case-insensitively,
// appear in Keys. Score is hits/Threshold.
type KeyCountRule struct {
	Keys      []string
	Threshold int
}

func (r KeyCountRule) Name() string { return "key-count" }

func (r KeyCountRule) Score(node map[string]any) float64 {
	hits := 0
	for k := range node {
		lower := strings.ToLower(k)
		for _, want := range r.Keys {
			if lower == want {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(r.Threshold)
}

// DefaultRule matches nodes carrying at least two of the well-known
// session field names.
func DefaultRule() Rule {
	return KeyCountRule{
		Keys: []string{
			"title", "name", "start", "starttime", "startsat",
			"venue", "venueid", "sport",
		},
		Threshold: 2,
	}
}

// Traverse visits every reachable node of a decoded JSON value exactly
// once, using an explicit work list. json.Unmarshal cannot produce
// cycles, so no visited set is needed.
func Traverse(root any, visit func(node any)) {
	stack := []any{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visit(cur)
		switch v := cur.(type) {
		case map[string]any:
			for _, value := range v {
				stack = append(stack, value)
			}
		case []any:
			stack = append(stack, v...)
		}
	}
}

// FromValue collects every mapping in the tree the rule scores as a
// candidate. Emission order is unspecified.
func FromValue(root any, rule Rule) []map[string]any {
	var out []map[string]any
	Traverse(root, func(node any) {
		m, ok := node.(map[string]any)
		if !ok {
			return
		}
		if rule.Score(m) >= 1 {
			out = append(out, m)
		}
	})
	return out
}

// Extract decodes one raw payload and collects candidates from it.
// Payloads that are not JSON, or decode to a bare scalar, yield zero
// candidates; that is a skip, not an error.
func Extract(payload []byte, rule Rule) []map[string]any {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil
	}

	var root any
	err := json.Unmarshal([]byte(trimmed), &root)
	if err != nil {
		return nil
	}
	return FromValue(root, rule)
}
