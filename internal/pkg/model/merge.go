package model

// Merge reconciles a deterministic candidate with a generative one. The
// primary record is trusted: wherever both candidates carry a populated,
// non-mapping value, primary wins. Null leaves and empty containers on either
// side are filled from the other. Merging a record with itself returns an
// equal record, and Merge(a, empty) == a.
func Merge(primary, secondary *RateRecord) *RateRecord {
	if primary == nil {
		return secondary.Clone()
	}
	if secondary == nil {
		return primary.Clone()
	}

	out := &RateRecord{
		BankName: firstNonEmpty(primary.BankName, secondary.BankName),
		BankID:   firstNonEmpty(primary.BankID, secondary.BankID),
		Data:     mergeNode(primary.Data, secondary.Data),
	}
	return out
}

func mergeNode(p, s *Node) *Node {
	switch {
	case s == nil:
		return p.Clone()
	case p == nil:
		return s.Clone()
	case p.Kind() == KindMap && s.Kind() == KindMap:
		out := Map()
		for _, k := range p.Keys() {
			out.Set(k, mergeNode(p.Get(k), s.Get(k)))
		}
		for _, k := range s.Keys() {
			if out.Get(k) == nil {
				out.Set(k, s.Get(k).Clone())
			}
		}
		return out
	case p.IsNull() || p.IsEmptyMap():
		return s.Clone()
	case s.IsNull() || s.IsEmptyMap():
		return p.Clone()
	default:
		return p.Clone()
	}
}

// CountMissing scores how incomplete a record is: every null leaf counts 1,
// mappings recurse, and an empty container counts 0 (an entirely absent
// sub-section is not scored). Rate, date and ladder leaves count 0.
func CountMissing(r *RateRecord) int {
	if r == nil {
		return 0
	}
	return countMissingNode(r.Data)
}

func countMissingNode(n *Node) int {
	if n == nil || n.Kind() == KindNull {
		return 1
	}
	if n.Kind() != KindMap {
		return 0
	}
	total := 0
	for _, k := range n.Keys() {
		total += countMissingNode(n.Get(k))
	}
	return total
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
