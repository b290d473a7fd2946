package localbackend

// Directive is a plugin's or sync provider's instruction to the state
// machine about how to continue processing, replacing the combination of
// boolean flags the Java source uses (skipCoreProcessing, sendResponse,
// connectionTerminated) with one explicit enum so invalid combinations
// (e.g. both skipCoreProcessing and sendResponseImmediately) can't arise.
type Directive int

const (
	// DirectiveContinue proceeds to the next phase normally.
	DirectiveContinue Directive = iota
	// DirectiveConnectionTerminated aborts the operation with CANCELED and
	// returns immediately, skipping every remaining phase except the
	// cleanup block (lock release, sync post-operation); post-op plugin
	// dispatch is skipped.
	DirectiveConnectionTerminated
	// DirectiveSendResponseImmediately exits the current phase, skipping
	// post-op plugin dispatch (SkipPostOperation is set).
	DirectiveSendResponseImmediately
	// DirectiveSkipCoreProcessing exits the current phase but keeps
	// post-op dispatch.
	DirectiveSkipCoreProcessing
)

// Plugin is a collaborator invoked at the pre-operation and post-operation
// checkpoints of a Modify-DN request. It may inspect and mutate ctx
// (appending to ctx.Modifications, for example) before returning its
// directive.
type Plugin interface {
	PreOperationModifyDN(ctx *OperationContext) Directive
	PostOperationModifyDN(ctx *OperationContext) Directive
	PostSynchronizationModifyDN(ctx *OperationContext)
}

// SynchronizationProvider participates in the replication/conflict
// resolution hooks. Continue reports whether the state machine should
// keep processing; when it returns false the provider has already
// stamped ctx's result fields.
type SynchronizationProvider interface {
	HandleConflictResolution(ctx *OperationContext) (continue_ bool)
	DoPreOperation(ctx *OperationContext) (continue_ bool)
	// DoPostOperation is invoked from the cleanup block regardless of
	// outcome. An error here is folded into ctx's result even when the
	// operation had already succeeded (see statemachine.go's cleanup
	// phase comment).
	DoPostOperation(ctx *OperationContext) error
}

// ChangeNotificationListener is notified after a successful rename.
// Listener errors are caught and logged, never surfaced to the caller.
type ChangeNotificationListener interface {
	HandleModifyDNOperation(ctx *OperationContext, oldEntry, newEntry *Entry) error
}

// PluginRegistry supplies the ordered plugin list active at the moment of
// a dispatch phase. The bus snapshots it at phase entry (§5 "provider
// lists ... stable iteration order").
type PluginRegistry interface {
	ModifyDNPlugins() []Plugin
}

// SynchronizationProviderRegistry supplies the ordered sync provider
// list, snapshotted the same way.
type SynchronizationProviderRegistry interface {
	SynchronizationProviders() []SynchronizationProvider
}

// ExtensionBus fans out the plugin, synchronization-provider and
// change-notification dispatch operations over the registries in env, in
// registration order.
type ExtensionBus struct {
	Env *DirectoryEnvironment
}

// NewExtensionBus returns a bus fanning out over env's registries.
func NewExtensionBus(env *DirectoryEnvironment) *ExtensionBus {
	return &ExtensionBus{Env: env}
}

// PreOperationModifyDN dispatches to every pre-operation modify-DN plugin
// in order, stopping at the first non-Continue directive.
func (b *ExtensionBus) PreOperationModifyDN(ctx *OperationContext) Directive {
	if b.Env == nil || b.Env.Plugins == nil {
		return DirectiveContinue
	}
	for _, p := range b.Env.Plugins.ModifyDNPlugins() {
		if d := p.PreOperationModifyDN(ctx); d != DirectiveContinue {
			return d
		}
	}
	return DirectiveContinue
}

// PostOperationModifyDN dispatches to every post-operation modify-DN
// plugin in order, stopping at the first non-Continue directive.
func (b *ExtensionBus) PostOperationModifyDN(ctx *OperationContext) Directive {
	if b.Env == nil || b.Env.Plugins == nil {
		return DirectiveContinue
	}
	for _, p := range b.Env.Plugins.ModifyDNPlugins() {
		if d := p.PostOperationModifyDN(ctx); d != DirectiveContinue {
			return d
		}
	}
	return DirectiveContinue
}

// PostSynchronizationModifyDN is fire-and-forget dispatch to every plugin.
func (b *ExtensionBus) PostSynchronizationModifyDN(ctx *OperationContext) {
	if b.Env == nil || b.Env.Plugins == nil {
		return
	}
	for _, p := range b.Env.Plugins.ModifyDNPlugins() {
		p.PostSynchronizationModifyDN(ctx)
	}
}

// ChangeNotification is fire-and-forget dispatch to every registered
// change-notification listener; listener errors are logged via
// env.Debug, never surfaced.
func (b *ExtensionBus) ChangeNotification(ctx *OperationContext, oldEntry, newEntry *Entry) {
	if b.Env == nil {
		return
	}
	for _, l := range b.Env.ChangeNotificationListeners {
		if err := l.HandleModifyDNOperation(ctx, oldEntry, newEntry); err != nil {
			b.Env.debugf("change notification listener error: %v", err)
		}
	}
}

// SyncConflictResolution dispatches HandleConflictResolution to every
// synchronization provider in order, stopping at the first one that
// returns continue=false.
func (b *ExtensionBus) SyncConflictResolution(ctx *OperationContext) (continue_ bool) {
	if b.Env == nil || b.Env.SynchronizationProviders == nil {
		return true
	}
	for _, p := range b.Env.SynchronizationProviders.SynchronizationProviders() {
		if !p.HandleConflictResolution(ctx) {
			return false
		}
	}
	return true
}

// SyncPreOperation dispatches DoPreOperation to every synchronization
// provider in order, stopping at the first one that returns
// continue=false.
func (b *ExtensionBus) SyncPreOperation(ctx *OperationContext) (continue_ bool) {
	if b.Env == nil || b.Env.SynchronizationProviders == nil {
		return true
	}
	for _, p := range b.Env.SynchronizationProviders.SynchronizationProviders() {
		if !p.DoPreOperation(ctx) {
			return false
		}
	}
	return true
}

// SyncPostOperation invokes DoPostOperation on every synchronization
// provider, unconditionally (the cleanup block always runs all of them).
// It returns the last error seen, matching the Java source's documented
// "last DirectoryException wins" behavior.
func (b *ExtensionBus) SyncPostOperation(ctx *OperationContext) error {
	if b.Env == nil || b.Env.SynchronizationProviders == nil {
		return nil
	}
	var last error
	for _, p := range b.Env.SynchronizationProviders.SynchronizationProviders() {
		if err := p.DoPostOperation(ctx); err != nil {
			last = err
		}
	}
	return last
}
