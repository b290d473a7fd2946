package localbackend

// ControlPipeline parses, authorizes, and applies request controls
// (§4.3.1), and builds the pre-read/post-read response controls
// (§4.3.2).
type ControlPipeline struct {
	AccessControl AccessControlHandler
	Backend       Backend
}

// NewControlPipeline returns a pipeline backed by ac and backend.
func NewControlPipeline(ac AccessControlHandler, backend Backend) *ControlPipeline {
	return &ControlPipeline{AccessControl: ac, Backend: backend}
}

// ApplyRequestControls iterates ctx.RequestControls in client-provided
// order, authorizing and dispatching each, substituting decoded typed
// controls back into the list so later extension points see them.
func (p *ControlPipeline) ApplyRequestControls(ctx *OperationContext) error {
	for i, c := range ctx.RequestControls {
		if p.AccessControl != nil && !p.AccessControl.IsAllowedControl(ctx.EntryDN, ctx, c) {
			ctx.SkipPostOperation = true
			return NewErrorf(ResultInsufficientAccessRights, "not permitted to use control %s", c.OID())
		}
		switch ctl := c.(type) {
		case *AssertionControl:
			ok, err := ctl.Evaluate(ctx.CurrentEntry)
			if err != nil {
				return err
			}
			if !ok {
				return NewErrorf(ResultAssertionFailed, "assertion control filter did not match entry %s", ctx.EntryDN)
			}
		case *NoOpControl:
			ctx.NoOp = true
		case *PreReadControl:
			ctx.PreReadRequest = &ReadEntryRequest{Attributes: ctl.Attributes}
		case *PostReadControl:
			ctx.PostReadRequest = &ReadEntryRequest{Attributes: ctl.Attributes}
		case *ProxiedAuthV1Control:
			if err := p.applyProxiedAuth(ctx, ctl.AuthorizationDN, false); err != nil {
				return err
			}
		case *ProxiedAuthV2Control:
			if ctl.Anonymous {
				if err := p.applyProxiedAuth(ctx, &DN{}, true); err != nil {
					return err
				}
				continue
			}
			if err := p.applyProxiedAuth(ctx, ctl.AuthorizationDN, false); err != nil {
				return err
			}
		case *UnknownControl:
			if ctl.Criticality() && (p.Backend == nil || !p.Backend.SupportsControl(ctl.OID())) {
				return NewErrorf(ResultUnavailableCriticalExtension, "critical control %s is not supported", ctl.OID())
			}
		}
		ctx.RequestControls[i] = c
	}
	return nil
}

func (p *ControlPipeline) applyProxiedAuth(ctx *OperationContext, authzDN *DN, anonymous bool) error {
	if p.AccessControl == nil || !p.AccessControl.HasPrivilege(ctx, PrivilegeProxiedAuth) {
		return NewErrorf(ResultAuthorizationDenied, "caller lacks the proxied-auth privilege")
	}
	ctx.ProxiedAuthorizationDN = authzDN
	if !anonymous {
		entry, err := p.Backend.GetEntry(authzDN)
		if err == nil {
			ctx.AuthorizationEntry = entry
		}
	}
	return nil
}

// AttachReadEntryControls implements §4.3.2: builds and appends
// LDAP_PREREAD_RESPONSE / LDAP_POSTREAD_RESPONSE controls from the
// snapshots taken earlier in the pipeline.
func (p *ControlPipeline) AttachReadEntryControls(ctx *OperationContext, preSnapshot, postSnapshot *Entry) {
	if ctx.PreReadRequest != nil && preSnapshot != nil {
		ctx.ResponseControls = append(ctx.ResponseControls, &PreReadControl{
			ReadEntryControl{controlHeader: controlHeader{oid: OIDPreRead}, Attributes: ctx.PreReadRequest.Attributes, Entry: preSnapshot},
		})
	}
	if ctx.PostReadRequest != nil && postSnapshot != nil {
		ctx.ResponseControls = append(ctx.ResponseControls, &PostReadControl{
			ReadEntryControl{controlHeader: controlHeader{oid: OIDPostRead}, Attributes: ctx.PostReadRequest.Attributes, Entry: postSnapshot},
		})
	}
}
