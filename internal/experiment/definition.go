/*
Package experiment assigns visitors to experiment variants and tallies outcomes.

Each (visitor, experiment) pair moves through UNASSIGNED, ASSIGNED and optionally
CONVERTED. An assignment is drawn once by weighted random choice, persisted in the
visitor's partition under ab_test_<experimentId>, and returned unchanged for as
long as that state survives.
*/
package experiment

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Variant is one arm of an experiment.
type Variant struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// SplitEntry is the share of traffic given to one variant, in percent.
type SplitEntry struct {
	Variant string
	Percent float64
}

// TrafficSplit is an ordered variant-to-percentage mapping. It is written as a
// YAML or JSON object and keeps the declared key order.
type TrafficSplit []SplitEntry

// Percent returns the share for variant, or 0.
func (s TrafficSplit) Percent(variant string) float64 {
	for _, e := range s {
		if e.Variant == variant {
			return e.Percent
		}
	}
	return 0
}

// Total returns the sum of all positive, finite shares.
func (s TrafficSplit) Total() float64 {
	total := 0.0
	for _, e := range s {
		if usable(e.Percent) {
			total += e.Percent
		}
	}
	return total
}

// UnmarshalYAML decodes a mapping node in document order. A value that is not a
// number is kept with a zero share so the key can still serve as a fallback.
func (s *TrafficSplit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("traffic_split: expected a mapping, got %s", nodeKind(node))
	}

	out := make(TrafficSplit, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		pct, err := strconv.ParseFloat(value.Value, 64)
		if err != nil || value.Kind != yaml.ScalarNode {
			pct = 0
		}
		out = append(out, SplitEntry{Variant: key.Value, Percent: pct})
	}
	*s = out
	return nil
}

// MarshalYAML encodes the split as a mapping in order.
func (s TrafficSplit) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range s {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Variant},
			&yaml.Node{Kind: yaml.ScalarNode, Value: strconv.FormatFloat(e.Percent, 'f', -1, 64)},
		)
	}
	return node, nil
}

// MarshalJSON encodes the split as an object in order.
func (s TrafficSplit) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Variant)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		pct := e.Percent
		if !usable(pct) {
			pct = 0
		}
		buf.WriteString(strconv.FormatFloat(pct, 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	default:
		return "node"
	}
}

func usable(pct float64) bool {
	return pct > 0 && !math.IsNaN(pct) && !math.IsInf(pct, 0)
}

// Definition describes one experiment.
type Definition struct {
	ID           string       `yaml:"id" json:"id" validate:"required"`
	Name         string       `yaml:"name" json:"name" validate:"required"`
	TestType     string       `yaml:"type,omitempty" json:"type,omitempty"`
	TargetID     string       `yaml:"target_id,omitempty" json:"target_id,omitempty"`
	Active       bool         `yaml:"active" json:"active"`
	Variants     []Variant    `yaml:"variants" json:"variants" validate:"dive"`
	TrafficSplit TrafficSplit `yaml:"traffic_split" json:"traffic_split"`
}

// OrderedSplit returns the split ordered by the variant list first, then any
// remaining split keys in declared order. Variants missing from the split are
// not added.
func (d Definition) OrderedSplit() TrafficSplit {
	out := make(TrafficSplit, 0, len(d.TrafficSplit))
	taken := make(map[string]bool, len(d.TrafficSplit))

	for _, v := range d.Variants {
		for _, e := range d.TrafficSplit {
			if e.Variant == v.Name && !taken[e.Variant] {
				out = append(out, e)
				taken[e.Variant] = true
				break
			}
		}
	}
	for _, e := range d.TrafficSplit {
		if !taken[e.Variant] {
			out = append(out, e)
			taken[e.Variant] = true
		}
	}
	return out
}

// VariantValue returns the value configured for the named variant.
func (d Definition) VariantValue(name string) any {
	for _, v := range d.Variants {
		if v.Name == name {
			return v.Value
		}
	}
	return nil
}

// Matches reports whether the definition runs on the given placement. An empty
// targetID matches every target.
func (d Definition) Matches(testType, targetID string) bool {
	if d.TestType != testType {
		return false
	}
	return targetID == "" || d.TargetID == targetID
}
