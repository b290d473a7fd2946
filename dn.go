package localbackend

import (
	enchex "encoding/hex"
	"errors"
	"strings"
)

// RDNCompareFold controls whether RDN value comparison folds case. Most
// directory deployments want this true; set to false for case-sensitive
// naming attributes.
var RDNCompareFold = true

// ErrDNNotSubordinate is returned by Strip when the candidate base is not
// an ancestor of the DN being stripped.
var ErrDNNotSubordinate = errors.New("localbackend: not a subordinate")

// AttributeTypeAndValue is one (type, value) pair of a RelativeDN.
type AttributeTypeAndValue struct {
	Type  string
	Value string
}

// RelativeDN is a non-empty, possibly multi-valued RDN.
type RelativeDN struct {
	Attributes []*AttributeTypeAndValue
}

// NumValues returns the number of (type, value) pairs in the RDN.
func (r *RelativeDN) NumValues() int {
	return len(r.Attributes)
}

// AttributeTypeAt returns the attribute type name at position i, lower-cased
// for schema lookups.
func (r *RelativeDN) AttributeTypeAt(i int) string {
	return strings.ToLower(r.Attributes[i].Type)
}

// AttributeNameAt returns the attribute type name at position i, preserving
// the case the client supplied.
func (r *RelativeDN) AttributeNameAt(i int) string {
	return r.Attributes[i].Type
}

// AttributeValueAt returns the attribute value at position i.
func (r *RelativeDN) AttributeValueAt(i int) string {
	return r.Attributes[i].Value
}

// Equal reports whether two RDNs have the same types and values in the same
// order, using RDNCompareFold for value comparison.
func (r *RelativeDN) Equal(o *RelativeDN) bool {
	if r == nil || o == nil {
		return r == o
	}
	if len(r.Attributes) != len(o.Attributes) {
		return false
	}
	for i, av := range r.Attributes {
		if !strings.EqualFold(av.Type, o.Attributes[i].Type) {
			return false
		}
		if RDNCompareFold {
			if !strings.EqualFold(av.Value, o.Attributes[i].Value) {
				return false
			}
		} else if av.Value != o.Attributes[i].Value {
			return false
		}
	}
	return true
}

// Less provides a stable total order over RDNs, used to order sibling DNs.
func (r *RelativeDN) Less(o *RelativeDN) bool {
	if len(r.Attributes) != len(o.Attributes) {
		return len(r.Attributes) < len(o.Attributes)
	}
	for i, a := range r.Attributes {
		lt, ot := strings.ToLower(a.Type), strings.ToLower(o.Attributes[i].Type)
		if lt != ot {
			return lt < ot
		}
		if RDNCompareFold {
			lv, ov := strings.ToLower(a.Value), strings.ToLower(o.Attributes[i].Value)
			if lv != ov {
				return lv < ov
			}
		} else if a.Value != o.Attributes[i].Value {
			return a.Value < o.Attributes[i].Value
		}
	}
	return false
}

func (r *RelativeDN) String() string {
	var tv []string
	for _, av := range r.Attributes {
		tv = append(tv, strings.ToLower(av.Type)+"="+EscapeValue(av.Value))
	}
	return strings.Join(tv, "+")
}

// DN is an ordered sequence of RDNs, leaf-first: RDNs[0] is the most
// specific component, RDNs[len-1] is the suffix root.
type DN struct {
	RDNs []*RelativeDN
}

// IsNullDN reports whether dn has zero RDNs (the DN of the root DSE).
func (dn *DN) IsNullDN() bool {
	return dn == nil || len(dn.RDNs) == 0
}

// RDN returns the leaf RDN, or nil if dn is the null DN.
func (dn *DN) RDN() *RelativeDN {
	if dn.IsNullDN() {
		return nil
	}
	return dn.RDNs[0]
}

// ParentInSuffix returns dn with its leaf RDN removed. A DN carries no
// knowledge of naming contexts, so the walk does not stop at a suffix
// root: "dc=ex,dc=com" yields "dc=com". A single-RDN or null dn yields the
// null DN (an empty DN, never nil).
func (dn *DN) ParentInSuffix() *DN {
	if dn == nil || len(dn.RDNs) <= 1 {
		return &DN{}
	}
	return &DN{RDNs: dn.RDNs[1:]}
}

// Concat returns a new DN with rdn prepended as the new leaf.
func (dn *DN) Concat(rdn *RelativeDN) *DN {
	out := &DN{RDNs: make([]*RelativeDN, 0, len(dn.RDNs)+1)}
	out.RDNs = append(out.RDNs, rdn)
	out.RDNs = append(out.RDNs, dn.RDNs...)
	return out
}

// Equal reports whether every RDN of dn and other are equal, in order.
func (dn *DN) Equal(other *DN) bool {
	if dn == nil || other == nil {
		return dn == other
	}
	if len(dn.RDNs) != len(other.RDNs) {
		return false
	}
	for i, r := range dn.RDNs {
		if !r.Equal(other.RDNs[i]) {
			return false
		}
	}
	return true
}

// IsSubordinate reports whether other is an ancestor of dn (dn is "below"
// other in the tree).
func (dn *DN) IsSubordinate(other *DN) bool {
	off := len(dn.RDNs) - len(other.RDNs)
	if off <= 0 {
		return false
	}
	for i, rdn := range other.RDNs {
		if !rdn.Equal(dn.RDNs[i+off]) {
			return false
		}
	}
	return true
}

// Strip removes base from the end (root side) of dn, returning an error if
// base is not an ancestor of dn.
func (dn *DN) Strip(base *DN) error {
	if !dn.IsSubordinate(base) {
		return ErrDNNotSubordinate
	}
	dn.RDNs = dn.RDNs[0 : len(dn.RDNs)-len(base.RDNs)]
	return nil
}

// Clone returns a deep copy of dn.
func (dn *DN) Clone() *DN {
	if dn == nil {
		return nil
	}
	c := &DN{}
	for _, r := range dn.RDNs {
		rc := &RelativeDN{}
		for _, tv := range r.Attributes {
			rc.Attributes = append(rc.Attributes, &AttributeTypeAndValue{Type: tv.Type, Value: tv.Value})
		}
		c.RDNs = append(c.RDNs, rc)
	}
	return c
}

// String returns the canonical string form of dn, with RDN values escaped
// per RFC 4514.
func (dn *DN) String() string {
	var rdns []string
	for _, r := range dn.RDNs {
		rdns = append(rdns, r.String())
	}
	return strings.Join(rdns, ",")
}

// EscapeValue escapes the characters RFC 4514 requires to be escaped in an
// RDN attribute value.
func EscapeValue(value string) string {
	var escaped strings.Builder
	for _, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';', '#', '=':
			escaped.WriteByte('\\')
			escaped.WriteRune(r)
		default:
			if uint(r) < 32 {
				escaped.WriteByte('\\')
				escaped.WriteString(enchex.EncodeToString([]byte(string(r))))
			} else {
				escaped.WriteRune(r)
			}
		}
	}
	return escaped.String()
}

// ParseDN parses an RFC 4514 distinguished name string into a *DN.
func ParseDN(str string) (*DN, error) {
	dn := &DN{RDNs: []*RelativeDN{}}
	if len(str) == 0 {
		return dn, nil
	}

	rdn := &RelativeDN{}
	attrType, attrValue := &strings.Builder{}, &strings.Builder{}
	inType, inValue, inQuotes := true, false, false

	endAttr := func() {
		if attrType.Len() == 0 && attrValue.Len() == 0 {
			return
		}
		rdn.Attributes = append(rdn.Attributes, &AttributeTypeAndValue{
			Type:  strings.TrimSpace(attrType.String()),
			Value: attrValue.String(),
		})
		attrType = &strings.Builder{}
		attrValue = &strings.Builder{}
	}

	runes := []rune(str)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inQuotes:
			if c == '"' {
				inQuotes = false
			} else {
				attrValue.WriteRune(c)
			}
		case c == '\\' && i+1 < len(runes):
			next := runes[i+1]
			if isHex(next) && i+2 < len(runes) && isHex(runes[i+2]) {
				b, err := enchex.DecodeString(string(next) + string(runes[i+2]))
				if err != nil {
					return nil, errors.New("localbackend: invalid DN escape")
				}
				attrValue.WriteByte(b[0])
				i += 2
			} else {
				attrValue.WriteRune(next)
				i++
			}
		case inType && c == '=':
			inType, inValue = false, true
		case inValue && c == '"' && attrValue.Len() == 0:
			inQuotes = true
		case inValue && (c == ',' || c == ';' || c == '+'):
			endAttr()
			if c == '+' {
				inType, inValue = true, false
				continue
			}
			dn.RDNs = append(dn.RDNs, rdn)
			rdn = &RelativeDN{}
			inType, inValue = true, false
		case inType:
			attrType.WriteRune(c)
		case inValue:
			attrValue.WriteRune(c)
		}
	}
	if inQuotes {
		return nil, errors.New("localbackend: unterminated quoted value in DN")
	}
	endAttr()
	if len(rdn.Attributes) > 0 {
		dn.RDNs = append(dn.RDNs, rdn)
	}
	for _, r := range dn.RDNs {
		for _, av := range r.Attributes {
			av.Value = strings.TrimSpace(av.Value)
		}
	}
	return dn, nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// DNs sorts DNs deepest-first, so a caller can delete a subtree in order.
type DNs []*DN

func (d DNs) Len() int      { return len(d) }
func (d DNs) Swap(i, j int) { d[i], d[j] = d[j], d[i] }
func (d DNs) Less(i, j int) bool {
	if d[i].IsSubordinate(d[j]) {
		return true
	}
	if d[i].ParentInSuffix().Equal(d[j].ParentInSuffix()) {
		return d[i].RDN().Less(d[j].RDN())
	}
	return false
}
