package localbackend

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	backend       Backend
	existing      map[string]bool
	writability   WritabilityMode
	checkSchema   bool
}

func (d *fakeDirectory) GetBackend(dn *DN) Backend           { return d.backend }
func (d *fakeDirectory) EntryExists(dn *DN) bool             { return d.existing[dn.String()] }
func (d *fakeDirectory) WritabilityMode() WritabilityMode    { return d.writability }
func (d *fakeDirectory) CheckSchema() bool                   { return d.checkSchema }

func newTestEnv(t *testing.T, backend *fakeBackend, schema SchemaChecker) *DirectoryEnvironment {
	t.Helper()
	dir := &fakeDirectory{
		backend:     backend,
		existing:    map[string]bool{},
		writability: WritabilityEnabled,
		checkSchema: schema != nil,
	}
	for key := range backend.entries {
		dir.existing[key] = true
	}
	return &DirectoryEnvironment{
		Directory:      dir,
		AccessControl:  &fakeAccessControl{allowed: true, allowedControls: true},
		Schema:         schema,
		CheckSchema:    schema != nil,
	}
}

func newSimpleCtx(t *testing.T, entryDN *DN, newRDN *RelativeDN) *OperationContext {
	return NewOperationContext(uuid.New(), entryDN, newRDN, nil, true)
}

func TestModifyDNStateMachine_SimpleRenameSucceeds(t *testing.T) {
	entryDN := mustParseDN(t, "cn=alice,ou=people,dc=ex,dc=com")
	entry := NewEntry(entryDN)
	var dups []string
	entry.AddAttribute(&Attribute{Type: "cn", Values: []string{"alice"}}, &dups)
	entry.AddAttribute(&Attribute{Type: "sn", Values: []string{"smith"}}, &dups)

	backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}}
	env := newTestEnv(t, backend, nil)
	sm := NewModifyDNStateMachine(env)

	newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
	ctx := newSimpleCtx(t, entryDN, newRDN)

	sm.Process(ctx, backend)

	require.Equal(t, ResultSuccess, ctx.ResultCode)
	newDN := entryDN.ParentInSuffix().Concat(newRDN)
	_, stillUnderOld := backend.entries[entryDN.String()]
	assert.False(t, stillUnderOld)
	renamed, ok := backend.entries[newDN.String()]
	require.True(t, ok)
	cn := renamed.GetAttribute("cn", nil)
	require.Len(t, cn, 1)
	assert.ElementsMatch(t, []string{"alicia"}, cn[0].Values)
}

func TestModifyDNStateMachine_CrossBackendRejected(t *testing.T) {
	entryDN := mustParseDN(t, "cn=alice,ou=people,dc=ex,dc=com")
	entry := NewEntry(entryDN)
	backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}}
	otherBackend := &fakeBackend{entries: map[string]*Entry{}}

	dir := &fakeDirectory{backend: otherBackend, existing: map[string]bool{}, writability: WritabilityEnabled}
	env := &DirectoryEnvironment{Directory: dir, AccessControl: &fakeAccessControl{allowed: true, allowedControls: true}}
	sm := NewModifyDNStateMachine(env)

	newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
	ctx := newSimpleCtx(t, entryDN, newRDN)

	sm.Process(ctx, backend)

	assert.Equal(t, ResultUnwillingToPerform, ctx.ResultCode)
}

func TestModifyDNStateMachine_AssertionControlSuccessAndFailure(t *testing.T) {
	entryDN := mustParseDN(t, "cn=alice,ou=people,dc=ex,dc=com")

	newEntryFor := func() *Entry {
		entry := NewEntry(entryDN)
		var dups []string
		entry.AddAttribute(&Attribute{Type: "cn", Values: []string{"alice"}}, &dups)
		return entry
	}

	t.Run("matching assertion lets the rename through", func(t *testing.T) {
		entry := newEntryFor()
		backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}}
		env := newTestEnv(t, backend, nil)
		sm := NewModifyDNStateMachine(env)

		packet, err := CompileFilter("(cn=alice)")
		require.NoError(t, err)
		ac, err := NewAssertionControl(true, packet.EncodeBER().Bytes())
		require.NoError(t, err)

		newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
		ctx := newSimpleCtx(t, entryDN, newRDN)
		ctx.RequestControls = []Control{ac}

		sm.Process(ctx, backend)
		assert.Equal(t, ResultSuccess, ctx.ResultCode)
	})

	t.Run("non-matching assertion fails the rename", func(t *testing.T) {
		entry := newEntryFor()
		backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}}
		env := newTestEnv(t, backend, nil)
		sm := NewModifyDNStateMachine(env)

		packet, err := CompileFilter("(cn=bob)")
		require.NoError(t, err)
		ac, err := NewAssertionControl(true, packet.EncodeBER().Bytes())
		require.NoError(t, err)

		newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
		ctx := newSimpleCtx(t, entryDN, newRDN)
		ctx.RequestControls = []Control{ac}

		sm.Process(ctx, backend)
		assert.Equal(t, ResultAssertionFailed, ctx.ResultCode)
		_, moved := backend.entries[entryDN.ParentInSuffix().Concat(newRDN).String()]
		assert.False(t, moved)
	})
}

func TestModifyDNStateMachine_NoOpControlMakesNoChange(t *testing.T) {
	entryDN := mustParseDN(t, "cn=alice,ou=people,dc=ex,dc=com")
	entry := NewEntry(entryDN)
	backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}}
	env := newTestEnv(t, backend, nil)
	sm := NewModifyDNStateMachine(env)

	newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
	ctx := newSimpleCtx(t, entryDN, newRDN)
	ctx.RequestControls = []Control{NewNoOpControl(false)}

	sm.Process(ctx, backend)

	assert.Equal(t, ResultNoOperation, ctx.ResultCode)
	_, stillThere := backend.entries[entryDN.String()]
	assert.True(t, stillThere)
}

func TestModifyDNStateMachine_CancellationBeforeCommit(t *testing.T) {
	entryDN := mustParseDN(t, "cn=alice,ou=people,dc=ex,dc=com")
	entry := NewEntry(entryDN)
	backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}}
	env := newTestEnv(t, backend, nil)
	sm := NewModifyDNStateMachine(env)

	newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
	ctx := newSimpleCtx(t, entryDN, newRDN)
	ctx.CancelRequest = true

	sm.Process(ctx, backend)

	assert.Equal(t, ResultCanceled, ctx.ResultCode)
	assert.Equal(t, CancelOK, ctx.CancelResult)
	assert.True(t, ctx.SkipPostOperation)
	_, stillThere := backend.entries[entryDN.String()]
	assert.True(t, stillThere)
}

func TestModifyDNStateMachine_SchemaViolationOnObsoleteRDNAttributeType(t *testing.T) {
	entryDN := mustParseDN(t, "cn=alice,ou=people,dc=ex,dc=com")
	entry := NewEntry(entryDN)
	backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}}
	schema := &fakeSchema{conforms: true, obsolete: map[string]bool{"cn": true}}
	env := newTestEnv(t, backend, schema)
	sm := NewModifyDNStateMachine(env)

	newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
	ctx := newSimpleCtx(t, entryDN, newRDN)

	sm.Process(ctx, backend)

	assert.Equal(t, ResultUnwillingToPerform, ctx.ResultCode)
	_, stillThere := backend.entries[entryDN.String()]
	assert.True(t, stillThere)
}

func TestModifyDNStateMachine_NoSuchEntry_SetsMatchedDN(t *testing.T) {
	parentDN := mustParseDN(t, "ou=people,dc=ex,dc=com")
	entryDN := mustParseDN(t, "cn=ghost,ou=people,dc=ex,dc=com")
	backend := &fakeBackend{entries: map[string]*Entry{}}
	env := newTestEnv(t, backend, nil)
	env.Directory.(*fakeDirectory).existing[parentDN.String()] = true
	sm := NewModifyDNStateMachine(env)

	newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "somebody"}}}
	ctx := newSimpleCtx(t, entryDN, newRDN)

	sm.Process(ctx, backend)

	assert.Equal(t, ResultNoSuchObject, ctx.ResultCode)
	require.NotNil(t, ctx.MatchedDN)
	assert.Equal(t, parentDN.String(), ctx.MatchedDN.String())
}

func TestModifyDNStateMachine_WritabilityDisabled_RejectsRename(t *testing.T) {
	entryDN := mustParseDN(t, "cn=alice,ou=people,dc=ex,dc=com")
	entry := NewEntry(entryDN)
	backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}, writability: WritabilityEnabled}
	env := newTestEnv(t, backend, nil)
	env.Directory.(*fakeDirectory).writability = WritabilityDisabled
	sm := NewModifyDNStateMachine(env)

	newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
	ctx := newSimpleCtx(t, entryDN, newRDN)

	sm.Process(ctx, backend)

	assert.Equal(t, ResultUnwillingToPerform, ctx.ResultCode)
}

func TestModifyDNStateMachine_PreReadPostReadControls(t *testing.T) {
	entryDN := mustParseDN(t, "cn=alice,ou=people,dc=ex,dc=com")
	entry := NewEntry(entryDN)
	var dups []string
	entry.AddAttribute(&Attribute{Type: "cn", Values: []string{"alice"}}, &dups)
	backend := &fakeBackend{entries: map[string]*Entry{entryDN.String(): entry}}
	env := newTestEnv(t, backend, nil)
	sm := NewModifyDNStateMachine(env)

	newRDN := &RelativeDN{Attributes: []*AttributeTypeAndValue{{Type: "cn", Value: "alicia"}}}
	ctx := newSimpleCtx(t, entryDN, newRDN)
	preCtl, err := NewPreReadControl(false, nil)
	require.NoError(t, err)
	postCtl, err := NewPostReadControl(false, nil)
	require.NoError(t, err)
	ctx.RequestControls = []Control{preCtl, postCtl}

	sm.Process(ctx, backend)

	require.Equal(t, ResultSuccess, ctx.ResultCode)
	require.Len(t, ctx.ResponseControls, 2)
	pre, ok := ctx.ResponseControls[0].(*PreReadControl)
	require.True(t, ok)
	assert.Equal(t, "cn=alice,ou=people,dc=ex,dc=com", pre.Entry.DN.String())

	post, ok := ctx.ResponseControls[1].(*PostReadControl)
	require.True(t, ok)
	assert.Equal(t, "cn=alicia,ou=people,dc=ex,dc=com", post.Entry.DN.String())
}
