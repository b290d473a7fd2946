package localbackend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePlugin struct {
	pre, post Directive
	preCalls  *[]string
	postCalls *[]string
	syncCalls *[]string
	name      string
}

func (p *fakePlugin) PreOperationModifyDN(ctx *OperationContext) Directive {
	if p.preCalls != nil {
		*p.preCalls = append(*p.preCalls, p.name)
	}
	return p.pre
}

func (p *fakePlugin) PostOperationModifyDN(ctx *OperationContext) Directive {
	if p.postCalls != nil {
		*p.postCalls = append(*p.postCalls, p.name)
	}
	return p.post
}

func (p *fakePlugin) PostSynchronizationModifyDN(ctx *OperationContext) {
	if p.syncCalls != nil {
		*p.syncCalls = append(*p.syncCalls, p.name)
	}
}

type fakePluginRegistry struct{ plugins []Plugin }

func (r *fakePluginRegistry) ModifyDNPlugins() []Plugin { return r.plugins }

type fakeSyncProvider struct {
	conflictContinue bool
	preContinue      bool
	postErr          error
	calls            *[]string
	name             string
}

func (p *fakeSyncProvider) HandleConflictResolution(ctx *OperationContext) bool {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.name+":conflict")
	}
	return p.conflictContinue
}

func (p *fakeSyncProvider) DoPreOperation(ctx *OperationContext) bool {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.name+":pre")
	}
	return p.preContinue
}

func (p *fakeSyncProvider) DoPostOperation(ctx *OperationContext) error {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.name+":post")
	}
	return p.postErr
}

type fakeSyncRegistry struct{ providers []SynchronizationProvider }

func (r *fakeSyncRegistry) SynchronizationProviders() []SynchronizationProvider { return r.providers }

type fakeListener struct {
	calls *[]string
	err   error
}

func (l *fakeListener) HandleModifyDNOperation(ctx *OperationContext, oldEntry, newEntry *Entry) error {
	if l.calls != nil {
		*l.calls = append(*l.calls, "notified")
	}
	return l.err
}

func TestExtensionBus_PreOperationModifyDN_StopsAtFirstNonContinue(t *testing.T) {
	var calls []string
	env := &DirectoryEnvironment{Plugins: &fakePluginRegistry{plugins: []Plugin{
		&fakePlugin{pre: DirectiveContinue, preCalls: &calls, name: "a"},
		&fakePlugin{pre: DirectiveSkipCoreProcessing, preCalls: &calls, name: "b"},
		&fakePlugin{pre: DirectiveContinue, preCalls: &calls, name: "c"},
	}}}
	bus := NewExtensionBus(env)

	got := bus.PreOperationModifyDN(&OperationContext{})
	assert.Equal(t, DirectiveSkipCoreProcessing, got)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestExtensionBus_NilRegistry_Continues(t *testing.T) {
	bus := NewExtensionBus(&DirectoryEnvironment{})
	assert.Equal(t, DirectiveContinue, bus.PreOperationModifyDN(&OperationContext{}))
	assert.Equal(t, DirectiveContinue, bus.PostOperationModifyDN(&OperationContext{}))
	assert.True(t, bus.SyncConflictResolution(&OperationContext{}))
	assert.True(t, bus.SyncPreOperation(&OperationContext{}))
	assert.NoError(t, bus.SyncPostOperation(&OperationContext{}))
}

func TestExtensionBus_SyncConflictResolution_StopsOnFalse(t *testing.T) {
	var calls []string
	env := &DirectoryEnvironment{SynchronizationProviders: &fakeSyncRegistry{providers: []SynchronizationProvider{
		&fakeSyncProvider{conflictContinue: false, calls: &calls, name: "p1"},
		&fakeSyncProvider{conflictContinue: true, calls: &calls, name: "p2"},
	}}}
	bus := NewExtensionBus(env)

	assert.False(t, bus.SyncConflictResolution(&OperationContext{}))
	assert.Equal(t, []string{"p1:conflict"}, calls)
}

func TestExtensionBus_SyncPostOperation_LastErrorWins(t *testing.T) {
	errA := errors.New("provider a failed")
	errB := errors.New("provider b failed")
	env := &DirectoryEnvironment{SynchronizationProviders: &fakeSyncRegistry{providers: []SynchronizationProvider{
		&fakeSyncProvider{postErr: errA},
		&fakeSyncProvider{postErr: nil},
		&fakeSyncProvider{postErr: errB},
	}}}
	bus := NewExtensionBus(env)

	assert.Equal(t, errB, bus.SyncPostOperation(&OperationContext{}))
}

func TestExtensionBus_ChangeNotification_LogsListenerErrorsWithoutSurfacing(t *testing.T) {
	var calls []string
	var loggedFormat string
	env := &DirectoryEnvironment{
		ChangeNotificationListeners: []ChangeNotificationListener{
			&fakeListener{calls: &calls, err: errors.New("boom")},
		},
		Debug: func(format string, args ...any) { loggedFormat = format },
	}
	bus := NewExtensionBus(env)

	assert.NotPanics(t, func() {
		bus.ChangeNotification(&OperationContext{}, nil, nil)
	})
	assert.Equal(t, []string{"notified"}, calls)
	assert.NotEmpty(t, loggedFormat)
}
