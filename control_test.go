package localbackend

import (
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertionControl_Evaluate(t *testing.T) {
	node, err := CompileFilter("(cn=alice)")
	require.NoError(t, err)
	c, err := NewAssertionControl(true, node.EncodeBER().Bytes())
	require.NoError(t, err)

	ok, err := c.Evaluate(newTestEntry(t))
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := CompileFilter("(cn=bob)")
	require.NoError(t, err)
	c2, err := NewAssertionControl(true, other.EncodeBER().Bytes())
	require.NoError(t, err)
	ok, err = c2.Evaluate(newTestEntry(t))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoOpControl(t *testing.T) {
	c := NewNoOpControl(true)
	assert.Equal(t, OIDNoOp, c.OID())
	assert.True(t, c.Criticality())
}

func TestPreReadControl_DecodesAttributeSelection(t *testing.T) {
	selection := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "AttributeSelection")
	selection.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "cn", "attr"))
	selection.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "sn", "attr"))

	c, err := NewPreReadControl(false, selection.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"cn", "sn"}, c.Attributes)
	assert.Equal(t, OIDPreRead, c.OID())
}

func TestPreReadControl_EmptySelectionMeansAllAttributes(t *testing.T) {
	c, err := NewPreReadControl(false, nil)
	require.NoError(t, err)
	assert.Empty(t, c.Attributes)
}

func TestPostReadControl_Encode_IncludesEntry(t *testing.T) {
	c, err := NewPostReadControl(false, nil)
	require.NoError(t, err)
	c.Entry = newTestEntry(t)

	packet := c.Encode()
	require.NotNil(t, packet)
	assert.Equal(t, OIDPostRead, ber.DecodeString(packet.Children[0].Data.Bytes()))
	require.Len(t, packet.Children, 2)
	assert.NotZero(t, packet.Children[1].Data.Len())
}

func TestProxiedAuthV1Control(t *testing.T) {
	c, err := NewProxiedAuthV1Control([]byte("cn=alice,dc=ex,dc=com"))
	require.NoError(t, err)
	assert.Equal(t, "cn=alice,dc=ex,dc=com", c.AuthorizationDN.String())
	assert.True(t, c.Criticality())
}

func TestProxiedAuthV2Control_DNForm(t *testing.T) {
	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "dn:cn=alice,dc=ex,dc=com", "authzId").Bytes()
	c, err := NewProxiedAuthV2Control(value)
	require.NoError(t, err)
	assert.False(t, c.Anonymous)
	assert.Equal(t, "cn=alice,dc=ex,dc=com", c.AuthorizationDN.String())
}

func TestProxiedAuthV2Control_AnonymousForm(t *testing.T) {
	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "authzId").Bytes()
	c, err := NewProxiedAuthV2Control(value)
	require.NoError(t, err)
	assert.True(t, c.Anonymous)
}

func TestProxiedAuthV2Control_RejectsUnsupportedForm(t *testing.T) {
	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "u:alice", "authzId").Bytes()
	_, err := NewProxiedAuthV2Control(value)
	assert.Error(t, err)
}

func TestDecodeControl_Dispatch(t *testing.T) {
	c, err := DecodeControl(OIDNoOp, true, nil)
	require.NoError(t, err)
	_, ok := c.(*NoOpControl)
	assert.True(t, ok)

	c, err = DecodeControl("1.2.3.4.unknown", false, []byte("value"))
	require.NoError(t, err)
	unk, ok := c.(*UnknownControl)
	require.True(t, ok)
	assert.Equal(t, "1.2.3.4.unknown", unk.OID())
	assert.Equal(t, []byte("value"), unk.Value)
}

func TestFilterAttributesForSelection(t *testing.T) {
	e := newTestEntry(t)

	all := filterAttributesForSelection(e, nil)
	assert.Len(t, all, 2)

	cnOnly := filterAttributesForSelection(e, []string{"cn"})
	require.Len(t, cnOnly, 1)
	assert.Equal(t, "cn", cnOnly[0].Type)
}
