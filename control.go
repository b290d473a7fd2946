package localbackend

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// OIDs recognized by the control pipeline (§6), bit-exact for wire
// compatibility.
const (
	OIDAssertion     = "1.3.6.1.1.12"
	OIDNoOp          = "1.3.6.1.4.1.4203.1.10.2"
	OIDPreRead       = "1.3.6.1.1.13.1"
	OIDPostRead      = "1.3.6.1.1.13.2"
	OIDProxiedAuthV1 = "2.16.840.1.113730.3.4.12"
	OIDProxiedAuthV2 = "2.16.840.1.113730.3.4.18"
)

// Control is a request or response control: an OID, a criticality flag,
// and (for request controls) a decoded typed payload. Concrete controls
// implement this by embedding controlHeader and adding their payload.
type Control interface {
	OID() string
	Criticality() bool
	// Encode appends this control's value as the child of a BER control
	// sequence, for controls that travel on the response.
	Encode() *ber.Packet
}

type controlHeader struct {
	oid      string
	critical bool
}

func (h controlHeader) OID() string       { return h.oid }
func (h controlHeader) Criticality() bool { return h.critical }

func (h controlHeader) encodeSequence(name string) *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, name)
	seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, h.oid, "Control Type"))
	if h.critical {
		seq.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, h.critical, "Criticality"))
	}
	return seq
}

// AssertionControl (OIDAssertion) carries a filter, evaluated against
// CurrentEntry before the rename proceeds.
type AssertionControl struct {
	controlHeader
	Filter *FilterNode
}

// NewAssertionControl decodes value as the BER-encoded filter carried by
// the Assertion control.
func NewAssertionControl(critical bool, value []byte) (*AssertionControl, error) {
	node, err := DecodeFilterBER(value)
	if err != nil {
		return nil, NewErrorf(ResultProtocolError, "assertion control: cannot decode filter: %s", err)
	}
	return &AssertionControl{controlHeader: controlHeader{oid: OIDAssertion, critical: critical}, Filter: node}, nil
}

// Evaluate reports whether e satisfies the control's filter.
func (c *AssertionControl) Evaluate(e *Entry) (bool, error) {
	ok, err := MatchesEntry(c.Filter, e)
	if err != nil {
		return false, NewErrorf(ResultProtocolError, "assertion control: %s", err)
	}
	return ok, nil
}

func (c *AssertionControl) Encode() *ber.Packet {
	seq := c.encodeSequence("Assertion Control")
	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value")
	value.Value = c.Filter.EncodeBER().Bytes()
	value.Data.Write(value.Value.([]byte))
	seq.AppendChild(value)
	return seq
}

// NoOpControl (OIDNoOp) asks the server to run every check but skip the
// final write.
type NoOpControl struct {
	controlHeader
}

func NewNoOpControl(critical bool) *NoOpControl {
	return &NoOpControl{controlHeader{oid: OIDNoOp, critical: critical}}
}

func (c *NoOpControl) Encode() *ber.Packet {
	return c.encodeSequence("No-Op Control")
}

// ReadEntryControl is the shared shape of the pre-read and post-read
// request/response controls.
type ReadEntryControl struct {
	controlHeader
	Attributes []string
	// Entry is set only on the response form, carrying the filtered
	// snapshot (§4.3.2).
	Entry *Entry
}

// PreReadControl (OIDPreRead) requests a filtered snapshot of the entry
// as it was before the rename.
type PreReadControl struct{ ReadEntryControl }

// NewPreReadControl decodes value as an AttributeSelection SEQUENCE of
// attribute description octet strings.
func NewPreReadControl(critical bool, value []byte) (*PreReadControl, error) {
	attrs, err := decodeAttributeSelection(value)
	if err != nil {
		return nil, NewErrorf(ResultProtocolError, "pre-read control: %s", err)
	}
	return &PreReadControl{ReadEntryControl{controlHeader: controlHeader{oid: OIDPreRead, critical: critical}, Attributes: attrs}}, nil
}

func (c *PreReadControl) Encode() *ber.Packet {
	return encodeReadEntryResponse(c.controlHeader, "Pre-Read Response Control", c.Entry, c.Attributes)
}

// PostReadControl (OIDPostRead) requests a filtered snapshot of the entry
// as it stands after the rename.
type PostReadControl struct{ ReadEntryControl }

func NewPostReadControl(critical bool, value []byte) (*PostReadControl, error) {
	attrs, err := decodeAttributeSelection(value)
	if err != nil {
		return nil, NewErrorf(ResultProtocolError, "post-read control: %s", err)
	}
	return &PostReadControl{ReadEntryControl{controlHeader: controlHeader{oid: OIDPostRead, critical: critical}, Attributes: attrs}}, nil
}

func (c *PostReadControl) Encode() *ber.Packet {
	return encodeReadEntryResponse(c.controlHeader, "Post-Read Response Control", c.Entry, c.Attributes)
}

func decodeAttributeSelection(value []byte) ([]string, error) {
	if len(value) == 0 {
		return nil, nil
	}
	packet := ber.DecodePacket(value)
	if packet == nil {
		return nil, fmt.Errorf("cannot decode AttributeSelection")
	}
	var attrs []string
	for _, child := range packet.Children {
		attrs = append(attrs, ber.DecodeString(child.Data.Bytes()))
	}
	return attrs, nil
}

func encodeReadEntryResponse(h controlHeader, name string, e *Entry, selection []string) *ber.Packet {
	seq := h.encodeSequence(name)
	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value")
	if e != nil {
		value.Value = encodeEntryForReadControl(e, selection)
		value.Data.Write(value.Value.([]byte))
	}
	seq.AppendChild(value)
	return seq
}

// encodeEntryForReadControl produces the SearchResultEntry-shaped payload
// a pre-read/post-read response control carries: DN plus the selected
// attributes (all of them, when selection is empty).
func encodeEntryForReadControl(e *Entry, selection []string) []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PartialAttributeList")
	seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, e.DN.String(), "LDAPDN"))
	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attributes")
	for _, list := range filterAttributesForSelection(e, selection) {
		av := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PartialAttribute")
		av.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, list.Type, "type"))
		vals := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "vals")
		for _, v := range list.Values {
			vals.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, v, "value"))
		}
		av.AppendChild(vals)
		attrs.AppendChild(av)
	}
	seq.AppendChild(attrs)
	return seq.Bytes()
}

// filterAttributesForSelection applies the inclusion policy of §4.3.2: an
// empty selection returns every attribute on the entry; a non-empty one
// returns only the named attribute types.
func filterAttributesForSelection(e *Entry, selection []string) []*Attribute {
	if len(selection) == 0 {
		var out []*Attribute
		for _, attrs := range e.Attributes {
			out = append(out, attrs...)
		}
		return out
	}
	var out []*Attribute
	for _, name := range selection {
		out = append(out, e.GetAttribute(name, nil)...)
	}
	return out
}

// ProxiedAuthV1Control (OIDProxiedAuthV1) carries a DN string identifying
// the identity to assume for access-control purposes.
type ProxiedAuthV1Control struct {
	controlHeader
	AuthorizationDN *DN
}

// NewProxiedAuthV1Control decodes value as the bare DN octet string the
// v1 control carries; the control is always critical per draft-weltman.
func NewProxiedAuthV1Control(value []byte) (*ProxiedAuthV1Control, error) {
	dn, err := ParseDN(string(value))
	if err != nil {
		return nil, NewErrorf(ResultProtocolError, "proxied auth v1 control: %s", err)
	}
	return &ProxiedAuthV1Control{controlHeader: controlHeader{oid: OIDProxiedAuthV1, critical: true}, AuthorizationDN: dn}, nil
}

func (c *ProxiedAuthV1Control) Encode() *ber.Packet {
	seq := c.encodeSequence("Proxied Authorization V1 Control")
	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.AuthorizationDN.String(), "Control Value")
	seq.AppendChild(value)
	return seq
}

// ProxiedAuthV2Control (OIDProxiedAuthV2) carries an authzId string
// ("dn:..." or the anonymous empty string); this pipeline only supports
// the "dn:" and anonymous forms, consistent with this core's scope (no
// user-to-DN mapping collaborator for "u:" identifiers).
type ProxiedAuthV2Control struct {
	controlHeader
	AuthorizationDN *DN
	// Anonymous is true for authzId "" (RFC 4370's anonymous form).
	Anonymous bool
}

func NewProxiedAuthV2Control(value []byte) (*ProxiedAuthV2Control, error) {
	packet := ber.DecodePacket(value)
	var authzID string
	if packet != nil {
		authzID = ber.DecodeString(packet.Data.Bytes())
	} else {
		authzID = string(value)
	}
	if authzID == "" {
		return &ProxiedAuthV2Control{controlHeader: controlHeader{oid: OIDProxiedAuthV2, critical: true}, Anonymous: true, AuthorizationDN: &DN{}}, nil
	}
	if len(authzID) < 3 || authzID[:3] != "dn:" {
		return nil, NewErrorf(ResultProtocolError, "proxied auth v2 control: unsupported authzId form %q", authzID)
	}
	dn, err := ParseDN(authzID[3:])
	if err != nil {
		return nil, NewErrorf(ResultProtocolError, "proxied auth v2 control: %s", err)
	}
	return &ProxiedAuthV2Control{controlHeader: controlHeader{oid: OIDProxiedAuthV2, critical: true}, AuthorizationDN: dn}, nil
}

func (c *ProxiedAuthV2Control) Encode() *ber.Packet {
	seq := c.encodeSequence("Proxied Authorization V2 Control")
	authzID := "dn:" + c.AuthorizationDN.String()
	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, authzID, "Control Value")
	seq.AppendChild(value)
	return seq
}

// UnknownControl is the catch-all for any OID the pipeline doesn't have a
// typed decoder for. Critical-unknown is the only error case (§4.3.1);
// non-critical is ignored.
type UnknownControl struct {
	controlHeader
	Value []byte
}

func NewUnknownControl(oid string, critical bool, value []byte) *UnknownControl {
	return &UnknownControl{controlHeader: controlHeader{oid: oid, critical: critical}, Value: value}
}

func (c *UnknownControl) Encode() *ber.Packet {
	seq := c.encodeSequence("Control")
	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value")
	value.Value = c.Value
	value.Data.Write(c.Value)
	seq.AppendChild(value)
	return seq
}

// DecodeControl dispatches on oid to produce the typed control the
// pipeline understands, falling back to UnknownControl.
func DecodeControl(oid string, critical bool, value []byte) (Control, error) {
	switch oid {
	case OIDAssertion:
		return NewAssertionControl(critical, value)
	case OIDNoOp:
		return NewNoOpControl(critical), nil
	case OIDPreRead:
		return NewPreReadControl(critical, value)
	case OIDPostRead:
		return NewPostReadControl(critical, value)
	case OIDProxiedAuthV1:
		return NewProxiedAuthV1Control(value)
	case OIDProxiedAuthV2:
		return NewProxiedAuthV2Control(value)
	default:
		return NewUnknownControl(oid, critical, value), nil
	}
}
