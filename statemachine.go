package localbackend

const defaultLockRetries = 3

// ModifyDNStateMachine is the top-level orchestrator: the single entry
// point a caller drives a Modify-DN request through.
type ModifyDNStateMachine struct {
	Env   *DirectoryEnvironment
	Locks *LockCoordinator
	Bus   *ExtensionBus
}

// NewModifyDNStateMachine wires up a state machine over env, with its own
// lock coordinator and extension bus.
func NewModifyDNStateMachine(env *DirectoryEnvironment) *ModifyDNStateMachine {
	return &ModifyDNStateMachine{
		Env:   env,
		Locks: NewLockCoordinator(),
		Bus:   NewExtensionBus(env),
	}
}

// Process runs ctx through phases 1-20 against backend (the backend
// bound to ctx.EntryDN, i.e. the "current" backend). It never panics or
// returns a Go error for operation-level failures; those are recorded on
// ctx.ResultCode/ErrorMessage per §7's propagation policy. Process has
// no return value.
func (sm *ModifyDNStateMachine) Process(ctx *OperationContext, backend Backend) {
	ctx.ResultCode = ResultSuccess

	// Phase 1: resolve DNs.
	parentDN := ctx.NewSuperior
	if parentDN == nil {
		parentDN = ctx.EntryDN.ParentInSuffix()
	}
	if parentDN.IsNullDN() {
		ctx.Fail(ResultUnwillingToPerform, "modify-DN request has no parent DN to rename into")
		return
	}
	if ctx.Cancelled() {
		sm.cancelBeforeLocking(ctx)
		return
	}
	newDN := parentDN.Concat(ctx.NewRDN)

	// Phase 2: backend binding.
	newBackend := sm.Env.Directory.GetBackend(newDN)
	if newBackend == nil {
		ctx.Fail(ResultNoSuchObject, "no backend is configured for "+newDN.String())
		return
	}
	if newBackend != backend {
		ctx.Fail(ResultUnwillingToPerform, "modify-DN cannot move an entry across backends")
		return
	}

	// Phase 3: lock pair. Always entryDN first, then newDN (§4.2); on
	// failure to get the second, the first is released before this
	// returns, so there is nothing left to release on this path.
	entryLock := sm.Locks.TryWrite(ctx.EntryDN, defaultLockRetries)
	if entryLock == nil {
		ctx.Fail(ResultServerError, "failed to acquire write lock for "+ctx.EntryDN.String())
		ctx.SkipPostOperation = true
		return
	}
	newLock := sm.Locks.TryWrite(newDN, defaultLockRetries)
	if newLock == nil {
		sm.Locks.Release(entryLock)
		ctx.Fail(ResultServerError, "failed to acquire write lock for "+newDN.String())
		ctx.SkipPostOperation = true
		return
	}
	defer func() {
		// Phase 18 (part): locks are always released here, on every exit
		// path out of runLocked below, including exceptional ones.
		sm.Locks.Release(newLock)
		sm.Locks.Release(entryLock)
	}()
	// Phase 18 (part) + 19 + 20: cleanup and post-op dispatch must run on
	// every exit path out of runLocked, not only the success path, so
	// they are deferred here rather than called explicitly at the bottom
	// of runLocked.
	defer sm.postProcess(ctx)

	sm.runLocked(ctx, backend, newDN)
}

// runLocked is phases 4-17, executed with both write locks held. Phases
// 18-20 run in Process's deferred postProcess call, which fires
// regardless of which return statement below was taken.
func (sm *ModifyDNStateMachine) runLocked(ctx *OperationContext, backend Backend, newDN *DN) {
	// Phase 4: fetch current entry.
	current, err := backend.GetEntry(ctx.EntryDN)
	if err != nil || current == nil {
		ctx.MatchedDN = sm.walkMatchedDN(ctx.EntryDN)
		ctx.Fail(ResultNoSuchObject, "no such entry "+ctx.EntryDN.String())
		return
	}
	ctx.CurrentEntry = current

	// Phase 5: conflict resolution.
	if !sm.Bus.SyncConflictResolution(ctx) {
		return
	}

	// Phase 6: control pipeline.
	pipeline := NewControlPipeline(sm.Env.AccessControl, backend)
	if err := pipeline.ApplyRequestControls(ctx); err != nil {
		sm.failFromError(ctx, err)
		return
	}

	// Phase 7: access decision.
	if sm.Env.AccessControl != nil && !sm.Env.AccessControl.IsAllowed(ctx) {
		ctx.Fail(ResultInsufficientAccessRights, "not permitted to rename "+ctx.EntryDN.String())
		ctx.SkipPostOperation = true
		return
	}

	// Phase 8: construct candidate.
	ctx.NewEntry = ctx.CurrentEntry.Duplicate(false)
	ctx.NewEntry.SetDN(newDN)
	ctx.Modifications = nil

	// Phase 9: RDN rewrite. CP.
	if ctx.Cancelled() {
		ctx.IndicateCancelled(ResultCanceled, "canceled before RDN rewrite")
		return
	}
	checkSchema := sm.Env.CheckSchema && sm.Env.Directory.CheckSchema()
	rewriter := NewRDNRewriter(NewSchemaGate(sm.Env.Schema))
	if err := rewriter.Apply(ctx, checkSchema); err != nil {
		sm.failFromError(ctx, err)
		return
	}

	// Phase 10: pre-op plugins (non-sync only).
	preOpModCount := len(ctx.Modifications)
	if !ctx.IsSynchronization {
		switch sm.Bus.PreOperationModifyDN(ctx) {
		case DirectiveConnectionTerminated:
			ctx.Fail(ResultCanceled, "connection terminated during pre-operation plugin processing")
			ctx.SkipPostOperation = true
			return
		case DirectiveSendResponseImmediately:
			ctx.SkipPostOperation = true
			return
		case DirectiveSkipCoreProcessing:
			return
		}
	}

	// Phase 11: apply pre-op modifications. CP.
	if ctx.Cancelled() {
		ctx.IndicateCancelled(ResultCanceled, "canceled before applying pre-operation modifications")
		return
	}
	if err := rewriter.ApplyPreOpModifications(ctx, preOpModCount, checkSchema); err != nil {
		sm.failFromError(ctx, err)
		return
	}

	// Phase 12: writability gate. Both the directory-wide mode and the
	// backend's own mode are enforced; the more restrictive of the two
	// wins, so a permissive backend mode can never loosen a stricter
	// directory-wide setting.
	if !backend.IsPrivateBackend() {
		directoryMode := sm.Env.Directory.WritabilityMode()
		backendMode := backend.WritabilityMode()
		if directoryMode == WritabilityDisabled || backendMode == WritabilityDisabled {
			ctx.Fail(ResultUnwillingToPerform, "the directory is in read-only mode")
			return
		}
		if directoryMode == WritabilityInternalOnly || backendMode == WritabilityInternalOnly {
			if !(ctx.IsInternal || ctx.IsSynchronization) {
				ctx.Fail(ResultUnwillingToPerform, "the directory only accepts internal and synchronization writes")
				return
			}
		}
	}

	// Snapshot for the pre-read response control before any further
	// mutation; taken here (not phase 16) so it reflects the entry as it
	// was before the rename, per §4.3.2.
	var preSnapshot *Entry
	if ctx.PreReadRequest != nil {
		preSnapshot = ctx.CurrentEntry.Duplicate(true)
	}

	// Phase 13: no-op short-circuit.
	if ctx.NoOp {
		ctx.ErrorMessage = "operation would have succeeded; no changes were made because the no-op control was present"
		ctx.Fail(ResultNoOperation, ctx.ErrorMessage)
		pipeline.AttachReadEntryControls(ctx, preSnapshot, ctx.NewEntry)
		return
	}

	// Phase 14: sync pre-op.
	if !sm.Bus.SyncPreOperation(ctx) {
		return
	}

	// Phase 15: commit.
	if err := backend.RenameEntry(ctx.EntryDN, ctx.NewEntry, ctx); err != nil {
		if IsErrorAnyOf(err, ResultCanceled) {
			ctx.IndicateCancelled(ResultCanceled, err.Error())
			return
		}
		sm.failFromError(ctx, err)
		return
	}

	// Phase 16: attach read-entry controls.
	pipeline.AttachReadEntryControls(ctx, preSnapshot, ctx.NewEntry)

	// Phase 17: success.
	ctx.ResultCode = ResultSuccess
}

// postProcess implements phases 18-20: cleanup, post-op dispatch, and
// change notification. It is deferred from Process so it runs exactly
// once per operation that reaches runLocked, regardless of which phase
// inside runLocked returned.
func (sm *ModifyDNStateMachine) postProcess(ctx *OperationContext) {
	// Phase 18 cleanup: dispatch every synchronization provider's
	// doPostOperation unconditionally. This can overwrite a successful
	// result with a post-operation sync error — kept as security-visible
	// behavior, not corrected.
	if err := sm.Bus.SyncPostOperation(ctx); err != nil {
		sm.failFromError(ctx, err)
	}
	ctx.LatchTooLate()

	// Phase 19: post-op or post-sync plugins.
	if ctx.IsSynchronization && ctx.ResultCode == ResultSuccess {
		sm.Bus.PostSynchronizationModifyDN(ctx)
	} else if !ctx.SkipPostOperation {
		if sm.Bus.PostOperationModifyDN(ctx) == DirectiveConnectionTerminated {
			ctx.Fail(ResultCanceled, "connection terminated during post-operation plugin processing")
			return
		}
	}

	// Phase 20: change notification.
	if ctx.ResultCode == ResultSuccess {
		sm.Bus.ChangeNotification(ctx, ctx.CurrentEntry, ctx.NewEntry)
	}
}

// cancelBeforeLocking handles cancellation observed at the phase-1
// checkpoint, before any lock has been taken — there is nothing for the
// deferred release to do, so this returns directly instead of flowing
// through Process's lock-pair logic.
func (sm *ModifyDNStateMachine) cancelBeforeLocking(ctx *OperationContext) {
	ctx.IndicateCancelled(ResultCanceled, "canceled before lock acquisition")
}

// walkMatchedDN implements the matchedDN ancestor walk: repeatedly strip
// to the parent in suffix, stopping at the first existing ancestor, or
// returning nil once the null DN is reached.
func (sm *ModifyDNStateMachine) walkMatchedDN(dn *DN) *DN {
	candidate := dn.ParentInSuffix()
	for !candidate.IsNullDN() {
		if sm.Env.Directory.EntryExists(candidate) {
			return candidate
		}
		candidate = candidate.ParentInSuffix()
	}
	return nil
}

func (sm *ModifyDNStateMachine) failFromError(ctx *OperationContext, err error) {
	ctx.Fail(ResultCodeOf(err), err.Error())
}
