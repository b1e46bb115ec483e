// Package extract parses structured model output describing relationships,
// attributes and hierarchies into graph rows.
//
// Parsing is strict: the input must be a single JSON document matching the
// schema exactly. Unknown fields, trailing data, missing identifiers and out
// of range scores are rejected with errs.ErrMalformedExtraction. Nothing in
// the input is ever evaluated.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/storage"
)

// Relationship is the wire form of an extracted edge.
type Relationship struct {
	Source        string                 `json:"source"`
	Target        string                 `json:"target"`
	Type          string                 `json:"type"`
	Strength      *float64               `json:"strength"`
	Confidence    *float64               `json:"confidence,omitempty"`
	Bidirectional bool                   `json:"bidirectional,omitempty"`
	StartTime     *time.Time             `json:"start_time,omitempty"`
	EndTime       *time.Time             `json:"end_time,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Attribute is the wire form of an extracted node attribute.
type Attribute struct {
	Node       string   `json:"node"`
	Name       string   `json:"name"`
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// HierarchyLink is the wire form of an extracted parent/child link.
type HierarchyLink struct {
	Parent     string   `json:"parent"`
	Child      string   `json:"child"`
	Type       string   `json:"type"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Document is the full extraction payload.
type Document struct {
	Relationships []Relationship  `json:"relationships"`
	Attributes    []Attribute     `json:"attributes"`
	Hierarchies   []HierarchyLink `json:"hierarchies"`
}

// Extraction holds validated rows ready to be written to a GraphStore.
type Extraction struct {
	Edges       []*storage.Edge
	Attributes  []*storage.NodeAttribute
	Hierarchies []*storage.Hierarchy
}

// Parse decodes a full extraction document.
func Parse(text string) (*Extraction, error) {
	var doc Document
	if err := decodeStrict(text, &doc); err != nil {
		return nil, fmt.Errorf("Parse: %w", err)
	}

	out := &Extraction{}
	for i := range doc.Relationships {
		edge, err := doc.Relationships[i].toEdge()
		if err != nil {
			return nil, fmt.Errorf("Parse: relationships[%d]: %w", i, err)
		}
		out.Edges = append(out.Edges, edge)
	}
	for i := range doc.Attributes {
		attr, err := doc.Attributes[i].toAttribute()
		if err != nil {
			return nil, fmt.Errorf("Parse: attributes[%d]: %w", i, err)
		}
		out.Attributes = append(out.Attributes, attr)
	}
	for i := range doc.Hierarchies {
		link, err := doc.Hierarchies[i].toHierarchy()
		if err != nil {
			return nil, fmt.Errorf("Parse: hierarchies[%d]: %w", i, err)
		}
		out.Hierarchies = append(out.Hierarchies, link)
	}

	return out, nil
}

// ParseRelationships decodes a JSON array of relationships.
func ParseRelationships(text string) ([]*storage.Edge, error) {
	var items []Relationship
	if err := decodeStrict(text, &items); err != nil {
		return nil, fmt.Errorf("ParseRelationships: %w", err)
	}
	edges := make([]*storage.Edge, 0, len(items))
	for i := range items {
		edge, err := items[i].toEdge()
		if err != nil {
			return nil, fmt.Errorf("ParseRelationships: [%d]: %w", i, err)
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

// ParseAttributes decodes a JSON array of attributes.
func ParseAttributes(text string) ([]*storage.NodeAttribute, error) {
	var items []Attribute
	if err := decodeStrict(text, &items); err != nil {
		return nil, fmt.Errorf("ParseAttributes: %w", err)
	}
	attrs := make([]*storage.NodeAttribute, 0, len(items))
	for i := range items {
		attr, err := items[i].toAttribute()
		if err != nil {
			return nil, fmt.Errorf("ParseAttributes: [%d]: %w", i, err)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// ParseHierarchies decodes a JSON array of hierarchy links.
func ParseHierarchies(text string) ([]*storage.Hierarchy, error) {
	var items []HierarchyLink
	if err := decodeStrict(text, &items); err != nil {
		return nil, fmt.Errorf("ParseHierarchies: %w", err)
	}
	links := make([]*storage.Hierarchy, 0, len(items))
	for i := range items {
		link, err := items[i].toHierarchy()
		if err != nil {
			return nil, fmt.Errorf("ParseHierarchies: [%d]: %w", i, err)
		}
		links = append(links, link)
	}
	return links, nil
}

func (r *Relationship) toEdge() (*storage.Edge, error) {
	if r.Source == "" || r.Target == "" || r.Type == "" {
		return nil, malformed("source, target and type are required")
	}
	if r.Strength == nil {
		return nil, malformed("strength is required")
	}
	if math.IsNaN(*r.Strength) || math.IsInf(*r.Strength, 0) {
		return nil, malformed("strength must be finite")
	}
	confidence, err := confidenceOrDefault(r.Confidence)
	if err != nil {
		return nil, err
	}
	if r.StartTime != nil && r.EndTime != nil && r.EndTime.Before(*r.StartTime) {
		return nil, malformed("end_time precedes start_time")
	}

	return &storage.Edge{
		SourceID:         r.Source,
		TargetID:         r.Target,
		RelationshipType: r.Type,
		Strength:         *r.Strength,
		Confidence:       confidence,
		Bidirectional:    r.Bidirectional,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		Metadata:         r.Metadata,
	}, nil
}

func (a *Attribute) toAttribute() (*storage.NodeAttribute, error) {
	if a.Node == "" || a.Name == "" {
		return nil, malformed("node and name are required")
	}
	confidence, err := confidenceOrDefault(a.Confidence)
	if err != nil {
		return nil, err
	}
	return &storage.NodeAttribute{NodeID: a.Node, Name: a.Name, Value: a.Value, Confidence: confidence}, nil
}

func (h *HierarchyLink) toHierarchy() (*storage.Hierarchy, error) {
	if h.Parent == "" || h.Child == "" || h.Type == "" {
		return nil, malformed("parent, child and type are required")
	}
	confidence, err := confidenceOrDefault(h.Confidence)
	if err != nil {
		return nil, err
	}
	return &storage.Hierarchy{ParentID: h.Parent, ChildID: h.Child, Type: h.Type, Confidence: confidence}, nil
}

func confidenceOrDefault(c *float64) (float64, error) {
	if c == nil {
		return 1.0, nil
	}
	if math.IsNaN(*c) || *c < 0 || *c > 1 {
		return 0, malformed(fmt.Sprintf("confidence %v outside [0,1]", *c))
	}
	return *c, nil
}

// decodeStrict decodes exactly one JSON value into v.
func decodeStrict(text string, v interface{}) error {
	text = stripCodeFence(text)
	if text == "" {
		return malformed("empty input")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrMalformedExtraction, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return malformed("trailing data after JSON value")
	}
	return nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		lang := strings.TrimSpace(text[:nl])
		if lang == "" || lang == "json" || lang == "JSON" {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", errs.ErrMalformedExtraction, reason)
}
