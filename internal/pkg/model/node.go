package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
)

// Kind discriminates the value held at one position of the rate tree.
type Kind int

const (
	KindNull Kind = iota
	KindRate
	KindDate
	KindLadder
	KindMap
)

// Node is one position in the canonical rate tree: a null leaf, a percentage
// leaf, a calendar-date leaf, a ladder of percentages (one table row with
// several numeric columns), or an insertion-ordered mapping.
//
// Percentages are percent units (8.6 means 8.6%), never fractions. A missing
// value is a null node, never 0.
type Node struct {
	kind   Kind
	rate   float64
	date   civil.Date
	ladder []float64
	keys   []string
	child  map[string]*Node
}

func Null() *Node { return &Node{kind: KindNull} }

func Rate(v float64) *Node { return &Node{kind: KindRate, rate: v} }

func Date(d civil.Date) *Node { return &Node{kind: KindDate, date: d} }

func Ladder(vs ...float64) *Node {
	return &Node{kind: KindLadder, ladder: append([]float64(nil), vs...)}
}

func Map() *Node { return &Node{kind: KindMap, child: map[string]*Node{}} }

func (n *Node) Kind() Kind { return n.kind }

// Rate returns the percentage value of a rate leaf.
func (n *Node) Rate() (float64, bool) {
	if n == nil || n.kind != KindRate {
		return 0, false
	}
	return n.rate, true
}

// Date returns the calendar date of a date leaf.
func (n *Node) Date() (civil.Date, bool) {
	if n == nil || n.kind != KindDate {
		return civil.Date{}, false
	}
	return n.date, true
}

// Ladder returns the rate ladder of a ladder leaf.
func (n *Node) Ladder() []float64 {
	if n == nil || n.kind != KindLadder {
		return nil
	}
	return append([]float64(nil), n.ladder...)
}

// Set stores child under key, preserving first-insertion order. Setting an
// existing key replaces the value in place.
func (n *Node) Set(key string, child *Node) *Node {
	if n.kind != KindMap {
		panic("model: Set on non-map node")
	}
	if child == nil {
		child = Null()
	}
	if _, ok := n.child[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.child[key] = child
	return n
}

// Get returns the child at key, or nil when absent or n is not a map.
func (n *Node) Get(key string) *Node {
	if n == nil || n.kind != KindMap {
		return nil
	}
	return n.child[key]
}

// Keys returns the map keys in insertion order.
func (n *Node) Keys() []string {
	if n == nil || n.kind != KindMap {
		return nil
	}
	return append([]string(nil), n.keys...)
}

func (n *Node) Len() int {
	if n == nil || n.kind != KindMap {
		return 0
	}
	return len(n.child)
}

// IsNull reports whether the node is absent or an explicit null leaf.
func (n *Node) IsNull() bool { return n == nil || n.kind == KindNull }

// IsEmptyMap reports whether the node is a mapping with no entries.
func (n *Node) IsEmptyMap() bool { return n != nil && n.kind == KindMap && len(n.child) == 0 }

// Clone returns a deep copy. Nodes handed out by the pipeline are treated as
// immutable, so every merge and template instantiation clones.
func (n *Node) Clone() *Node {
	if n == nil {
		return Null()
	}
	switch n.kind {
	case KindMap:
		out := Map()
		for _, k := range n.keys {
			out.Set(k, n.child[k].Clone())
		}
		return out
	case KindLadder:
		return Ladder(n.ladder...)
	default:
		cp := *n
		return &cp
	}
}

// MarshalJSON renders null / bare number / "YYYY-MM-DD" / [numbers] / object,
// with object keys in insertion order.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	switch n.kind {
	case KindNull:
		return []byte("null"), nil
	case KindRate:
		return []byte(strconv.FormatFloat(n.rate, 'f', -1, 64)), nil
	case KindDate:
		return json.Marshal(n.date.String())
	case KindLadder:
		return json.Marshal(n.ladder)
	case KindMap:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := n.child[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("model: unknown node kind %d", n.kind)
}

// UnmarshalJSON decodes arbitrary JSON into the node sum type. Numbers become
// rate leaves, ISO date strings become date leaves, arrays of numbers become
// ladders. Strings that are neither dates nor parsable percentages, and any
// other scalar, decode to null so malformed generative output degrades to
// explicit absence instead of bogus values.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeNode(dec)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func decodeNode(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (*Node, error) {
	switch v := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Null(), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Null(), nil
		}
		return Rate(f), nil
	case string:
		return scalarFromString(v), nil
	case json.Delim:
		switch v {
		case '{':
			out := Map()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("model: object key is not a string")
				}
				child, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				out.Set(key, child)
			}
			if _, err := dec.Token(); err != nil { // closing '}'
				return nil, err
			}
			return out, nil
		case '[':
			var vals []float64
			numeric := true
			for dec.More() {
				child, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				if r, ok := child.Rate(); ok {
					vals = append(vals, r)
				} else {
					numeric = false
				}
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return nil, err
			}
			if !numeric || len(vals) == 0 {
				return Null(), nil
			}
			return Ladder(vals...), nil
		}
	}
	return nil, fmt.Errorf("model: unexpected JSON token %v", tok)
}

// scalarFromString maps a JSON string to a date leaf, a rate leaf (the model
// occasionally quotes numbers, "8,6%" included), or null.
func scalarFromString(s string) *Node {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return Null()
	}
	if d, err := civil.ParseDate(s); err == nil {
		return Date(d)
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.TrimSuffix(s, "%"), ",", "."))
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil && f >= 0 {
		return Rate(f)
	}
	return Null()
}
