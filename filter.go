package localbackend

import (
	"errors"
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// FilterKind is the kind of node in a parsed filter tree (RFC 4511 §4.5.1).
type FilterKind int

const (
	FilterAnd FilterKind = iota
	FilterOr
	FilterNot
	FilterEquality
	FilterSubstrings
	FilterGreaterOrEqual
	FilterLessOrEqual
	FilterPresent
	FilterApproxMatch
	FilterExtensibleMatch
)

// Wire tags for the filter CHOICE (RFC 4511 §4.5.1), used only at the BER
// encode/decode boundary.
const (
	berTagAnd             = 0
	berTagOr              = 1
	berTagNot             = 2
	berTagEqualityMatch   = 3
	berTagSubstrings      = 4
	berTagGreaterOrEqual  = 5
	berTagLessOrEqual     = 6
	berTagPresent         = 7
	berTagApproxMatch     = 8
	berTagExtensibleMatch = 9
)

const (
	berTagSubstringInitial = 0
	berTagSubstringAny     = 1
	berTagSubstringFinal   = 2
)

// FilterNode is a parsed filter: one node of the tree CompileFilter or
// DecodeFilterBER produces. AssertionControl and MatchesEntry operate
// directly on this type rather than on a raw BER packet, so evaluation
// walks Entry/Attribute lookups instead of re-interpreting wire tags.
type FilterNode struct {
	Kind     FilterKind
	Children []*FilterNode // And, Or, Not

	Attribute string // Equality, Substrings, GreaterOrEqual, LessOrEqual, Present, ApproxMatch

	Value string // Equality, GreaterOrEqual, LessOrEqual, ApproxMatch

	// Substrings components; SubAny may hold more than one "*"-delimited
	// middle fragment.
	SubInitial string
	SubAny     []string
	SubFinal   string
}

// CompileFilter parses an RFC 4515 string filter into a FilterNode.
func CompileFilter(filter string) (*FilterNode, error) {
	p := &filterParser{src: filter}
	if !p.consume('(') {
		return nil, errors.New("localbackend: filter does not start with '('")
	}
	node, err := p.parseFilterComp()
	if err != nil {
		return nil, err
	}
	if !p.consume(')') {
		return nil, errors.New("localbackend: filter missing closing ')'")
	}
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("localbackend: trailing data after filter: %q", p.src[p.pos:])
	}
	return node, nil
}

// filterParser is a cursor over a filter string; each parse method
// advances pos itself and reports failure via an error return, rather
// than threading a position through every call's return values.
type filterParser struct {
	src string
	pos int
}

func (p *filterParser) atEnd() bool { return p.pos >= len(p.src) }

func (p *filterParser) peek() byte {
	if p.atEnd() {
		return 0
	}
	return p.src[p.pos]
}

func (p *filterParser) consume(b byte) bool {
	if p.peek() != b {
		return false
	}
	p.pos++
	return true
}

// parseFilterComp parses one filtercomp: and / or / not / item, with the
// surrounding '(' already consumed by the caller.
func (p *filterParser) parseFilterComp() (*FilterNode, error) {
	switch p.peek() {
	case '&':
		p.pos++
		children, err := p.parseFilterList()
		if err != nil {
			return nil, err
		}
		return &FilterNode{Kind: FilterAnd, Children: children}, nil
	case '|':
		p.pos++
		children, err := p.parseFilterList()
		if err != nil {
			return nil, err
		}
		return &FilterNode{Kind: FilterOr, Children: children}, nil
	case '!':
		p.pos++
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		return &FilterNode{Kind: FilterNot, Children: []*FilterNode{child}}, nil
	default:
		return p.parseItem()
	}
}

// parseFilter parses one "(" filtercomp ")" group.
func (p *filterParser) parseFilter() (*FilterNode, error) {
	if !p.consume('(') {
		return nil, errors.New("localbackend: expected '(' in filter")
	}
	node, err := p.parseFilterComp()
	if err != nil {
		return nil, err
	}
	if !p.consume(')') {
		return nil, errors.New("localbackend: expected ')' in filter")
	}
	return node, nil
}

// parseFilterList parses the 1*filter operand list of an and/or node.
func (p *filterParser) parseFilterList() ([]*FilterNode, error) {
	var children []*FilterNode
	for p.peek() == '(' {
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, errors.New("localbackend: and/or filter requires at least one operand")
	}
	return children, nil
}

// parseItem parses a simple/present/substring item: "attr" op "value" up
// to (but not including) the closing ')'.
func (p *filterParser) parseItem() (*FilterNode, error) {
	start := p.pos
	for !p.atEnd() && p.src[p.pos] != '=' && p.src[p.pos] != '>' && p.src[p.pos] != '<' && p.src[p.pos] != '~' && p.src[p.pos] != ')' {
		p.pos++
	}
	attribute := p.src[start:p.pos]
	if p.atEnd() {
		return nil, errors.New("localbackend: unexpected end of filter")
	}

	kind := FilterEquality
	switch p.src[p.pos] {
	case '=':
		p.pos++
	case '>':
		if p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=' {
			return nil, fmt.Errorf("localbackend: malformed operator at %q", p.src[p.pos:])
		}
		kind = FilterGreaterOrEqual
		p.pos += 2
	case '<':
		if p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=' {
			return nil, fmt.Errorf("localbackend: malformed operator at %q", p.src[p.pos:])
		}
		kind = FilterLessOrEqual
		p.pos += 2
	case '~':
		if p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=' {
			return nil, fmt.Errorf("localbackend: malformed operator at %q", p.src[p.pos:])
		}
		kind = FilterApproxMatch
		p.pos += 2
	default:
		return nil, fmt.Errorf("localbackend: malformed operator at %q", p.src[p.pos:])
	}
	if attribute == "" {
		return nil, errors.New("localbackend: filter item has no attribute")
	}

	valueStart := p.pos
	for !p.atEnd() && p.src[p.pos] != ')' {
		p.pos++
	}
	if p.atEnd() {
		return nil, errors.New("localbackend: unexpected end of filter")
	}
	value := p.src[valueStart:p.pos]

	if kind == FilterEquality {
		if node := presentOrSubstringNode(attribute, value); node != nil {
			return node, nil
		}
	}
	return &FilterNode{Kind: kind, Attribute: attribute, Value: value}, nil
}

// presentOrSubstringNode recognizes the "=*", "=*x*", "=x*", "=*x" forms an
// equality item's value can take, returning nil when value is an ordinary
// equality match.
func presentOrSubstringNode(attribute, value string) *FilterNode {
	if value == "*" {
		return &FilterNode{Kind: FilterPresent, Attribute: attribute}
	}
	if !strings.Contains(value, "*") {
		return nil
	}
	parts := strings.Split(value, "*")
	node := &FilterNode{Kind: FilterSubstrings, Attribute: attribute}
	node.SubInitial = parts[0]
	node.SubFinal = parts[len(parts)-1]
	if len(parts) > 2 {
		node.SubAny = append([]string{}, parts[1:len(parts)-1]...)
	}
	return node
}

// String renders the filter back to its RFC 4515 string form, used for
// diagnostic messages.
func (n *FilterNode) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *FilterNode) write(b *strings.Builder) {
	b.WriteByte('(')
	switch n.Kind {
	case FilterAnd:
		b.WriteByte('&')
		for _, c := range n.Children {
			c.write(b)
		}
	case FilterOr:
		b.WriteByte('|')
		for _, c := range n.Children {
			c.write(b)
		}
	case FilterNot:
		b.WriteByte('!')
		n.Children[0].write(b)
	case FilterPresent:
		b.WriteString(n.Attribute)
		b.WriteString("=*")
	case FilterEquality:
		b.WriteString(n.Attribute)
		b.WriteByte('=')
		b.WriteString(n.Value)
	case FilterGreaterOrEqual:
		b.WriteString(n.Attribute)
		b.WriteString(">=")
		b.WriteString(n.Value)
	case FilterLessOrEqual:
		b.WriteString(n.Attribute)
		b.WriteString("<=")
		b.WriteString(n.Value)
	case FilterApproxMatch:
		b.WriteString(n.Attribute)
		b.WriteString("~=")
		b.WriteString(n.Value)
	case FilterSubstrings:
		b.WriteString(n.Attribute)
		b.WriteByte('=')
		b.WriteString(n.SubInitial)
		b.WriteByte('*')
		for _, mid := range n.SubAny {
			b.WriteString(mid)
			b.WriteByte('*')
		}
		b.WriteString(n.SubFinal)
	}
	b.WriteByte(')')
}

// EncodeBER renders the filter as the BER CHOICE the wire protocol (and the
// Assertion control, RFC 4528) carries it as.
func (n *FilterNode) EncodeBER() *ber.Packet {
	switch n.Kind {
	case FilterAnd:
		p := ber.Encode(ber.ClassContext, ber.TypeConstructed, berTagAnd, nil, "And")
		for _, c := range n.Children {
			p.AppendChild(c.EncodeBER())
		}
		return p
	case FilterOr:
		p := ber.Encode(ber.ClassContext, ber.TypeConstructed, berTagOr, nil, "Or")
		for _, c := range n.Children {
			p.AppendChild(c.EncodeBER())
		}
		return p
	case FilterNot:
		p := ber.Encode(ber.ClassContext, ber.TypeConstructed, berTagNot, nil, "Not")
		p.AppendChild(n.Children[0].EncodeBER())
		return p
	case FilterPresent:
		return ber.NewString(ber.ClassContext, ber.TypePrimitive, berTagPresent, n.Attribute, "Present")
	case FilterEquality:
		return encodeAttributeValueAssertion(berTagEqualityMatch, "Equality Match", n.Attribute, n.Value)
	case FilterGreaterOrEqual:
		return encodeAttributeValueAssertion(berTagGreaterOrEqual, "Greater Or Equal", n.Attribute, n.Value)
	case FilterLessOrEqual:
		return encodeAttributeValueAssertion(berTagLessOrEqual, "Less Or Equal", n.Attribute, n.Value)
	case FilterApproxMatch:
		return encodeAttributeValueAssertion(berTagApproxMatch, "Approx Match", n.Attribute, n.Value)
	case FilterSubstrings:
		p := ber.Encode(ber.ClassContext, ber.TypeConstructed, berTagSubstrings, nil, "Substrings")
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, n.Attribute, "Attribute"))
		seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Substrings")
		if n.SubInitial != "" {
			seq.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, berTagSubstringInitial, n.SubInitial, "Initial Substring"))
		}
		for _, mid := range n.SubAny {
			seq.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, berTagSubstringAny, mid, "Any Substring"))
		}
		if n.SubFinal != "" {
			seq.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, berTagSubstringFinal, n.SubFinal, "Final Substring"))
		}
		p.AppendChild(seq)
		return p
	default:
		return ber.Encode(ber.ClassContext, ber.TypeConstructed, berTagExtensibleMatch, nil, "Extensible Match")
	}
}

func encodeAttributeValueAssertion(tag ber.Tag, name, attribute, value string) *ber.Packet {
	p := ber.Encode(ber.ClassContext, ber.TypeConstructed, tag, nil, name)
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attribute, "Attribute"))
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, value, "Value"))
	return p
}

// DecodeFilterBER decodes a BER-encoded filter CHOICE (as carried by the
// Assertion control, or a search request's filter field) into a FilterNode.
func DecodeFilterBER(data []byte) (*FilterNode, error) {
	packet := ber.DecodePacket(data)
	if packet == nil {
		return nil, errors.New("localbackend: cannot decode BER filter")
	}
	return filterNodeFromBER(packet)
}

func filterNodeFromBER(packet *ber.Packet) (*FilterNode, error) {
	switch packet.Tag {
	case berTagAnd, berTagOr:
		kind := FilterAnd
		if packet.Tag == berTagOr {
			kind = FilterOr
		}
		node := &FilterNode{Kind: kind}
		for _, child := range packet.Children {
			c, err := filterNodeFromBER(child)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, c)
		}
		return node, nil
	case berTagNot:
		if len(packet.Children) != 1 {
			return nil, errors.New("localbackend: not filter requires exactly one operand")
		}
		child, err := filterNodeFromBER(packet.Children[0])
		if err != nil {
			return nil, err
		}
		return &FilterNode{Kind: FilterNot, Children: []*FilterNode{child}}, nil
	case berTagPresent:
		return &FilterNode{Kind: FilterPresent, Attribute: ber.DecodeString(packet.Data.Bytes())}, nil
	case berTagEqualityMatch, berTagGreaterOrEqual, berTagLessOrEqual, berTagApproxMatch:
		if len(packet.Children) != 2 {
			return nil, errors.New("localbackend: attribute-value-assertion filter requires exactly two children")
		}
		kind := map[ber.Tag]FilterKind{
			berTagEqualityMatch:  FilterEquality,
			berTagGreaterOrEqual: FilterGreaterOrEqual,
			berTagLessOrEqual:    FilterLessOrEqual,
			berTagApproxMatch:    FilterApproxMatch,
		}[packet.Tag]
		return &FilterNode{
			Kind:      kind,
			Attribute: ber.DecodeString(packet.Children[0].Data.Bytes()),
			Value:     ber.DecodeString(packet.Children[1].Data.Bytes()),
		}, nil
	case berTagSubstrings:
		if len(packet.Children) != 2 {
			return nil, errors.New("localbackend: substrings filter requires exactly two children")
		}
		node := &FilterNode{Kind: FilterSubstrings, Attribute: ber.DecodeString(packet.Children[0].Data.Bytes())}
		for _, part := range packet.Children[1].Children {
			switch part.Tag {
			case berTagSubstringInitial:
				node.SubInitial = ber.DecodeString(part.Data.Bytes())
			case berTagSubstringAny:
				node.SubAny = append(node.SubAny, ber.DecodeString(part.Data.Bytes()))
			case berTagSubstringFinal:
				node.SubFinal = ber.DecodeString(part.Data.Bytes())
			}
		}
		return node, nil
	default:
		return &FilterNode{Kind: FilterExtensibleMatch}, nil
	}
}

// MatchesEntry evaluates n against e: the minimal subset of RFC 4511
// filter semantics the Assertion control (§4.3.1) needs, walking e's
// attributes directly rather than re-interpreting wire tags. Substring/
// ordering/extensible matches report no match rather than erroring, since
// the assertion control's purpose here is a simple equality guard.
func MatchesEntry(n *FilterNode, e *Entry) (bool, error) {
	switch n.Kind {
	case FilterAnd:
		for _, child := range n.Children {
			ok, err := MatchesEntry(child, e)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case FilterOr:
		for _, child := range n.Children {
			ok, err := MatchesEntry(child, e)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case FilterNot:
		ok, err := MatchesEntry(n.Children[0], e)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case FilterPresent:
		return len(e.GetAttribute(n.Attribute, nil)) > 0, nil
	case FilterEquality:
		for _, a := range e.GetAttribute(n.Attribute, nil) {
			if containsFold(a.Values, n.Value) {
				return true, nil
			}
		}
		return false, nil
	case FilterGreaterOrEqual, FilterLessOrEqual, FilterSubstrings, FilterApproxMatch, FilterExtensibleMatch:
		return false, nil
	default:
		return false, fmt.Errorf("localbackend: unsupported filter kind %d", n.Kind)
	}
}

// MatchesEntryString compiles filter and evaluates it against e in one
// step.
func MatchesEntryString(filter string, e *Entry) (bool, error) {
	node, err := CompileFilter(filter)
	if err != nil {
		return false, err
	}
	return MatchesEntry(node, e)
}
