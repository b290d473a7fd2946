package localbackend

import "strconv"

// RDNRewriter derives the attribute modifications implied by a DN change
// and keeps the candidate entry schema-conformant as it does so.
type RDNRewriter struct {
	Schema *SchemaGate
}

// NewRDNRewriter returns a rewriter backed by gate. A nil gate disables
// schema checking.
func NewRDNRewriter(gate *SchemaGate) *RDNRewriter {
	return &RDNRewriter{Schema: gate}
}

// Apply runs §4.4.1–4.4.3 against ctx.NewEntry: deleting old RDN values
// (when requested), adding new RDN values, then gating the result against
// schema. ctx.NewEntry and ctx.Modifications must already be initialized.
func (r *RDNRewriter) Apply(ctx *OperationContext, checkSchema bool) error {
	oldRDN := ctx.EntryDN.RDN()
	if ctx.DeleteOldRDN && oldRDN != nil {
		if err := r.deleteOldRDN(ctx, oldRDN); err != nil {
			return err
		}
	}
	if err := r.addNewRDN(ctx, ctx.NewRDN); err != nil {
		return err
	}
	if checkSchema && !ctx.IsSynchronization {
		if err := r.Schema.Check(ctx.NewEntry.DN, ctx.NewEntry); err != nil {
			return err
		}
		if err := r.Schema.CheckObsoleteRDNAttributes(ctx.EntryDN, ctx.NewRDN); err != nil {
			return err
		}
	}
	return nil
}

// deleteOldRDN implements §4.4.1.
func (r *RDNRewriter) deleteOldRDN(ctx *OperationContext, oldRDN *RelativeDN) error {
	for i := 0; i < oldRDN.NumValues(); i++ {
		attrType := oldRDN.AttributeNameAt(i)
		a := NewAttribute(attrType, oldRDN.AttributeValueAt(i))
		if r.Schema.IsNoUserModification(oldRDN.AttributeTypeAt(i)) && !(ctx.IsInternal || ctx.IsSynchronization) {
			return NewErrorf(ResultUnwillingToPerform,
				"cannot remove old RDN value of NO-USER-MODIFICATION attribute %q", attrType)
		}
		var missing []string
		ctx.NewEntry.RemoveAttribute(a, &missing)
		if len(missing) == 0 {
			ctx.Modifications = append(ctx.Modifications, Modification{Kind: ModDelete, Attribute: a})
		}
	}
	return nil
}

// addNewRDN implements §4.4.2.
func (r *RDNRewriter) addNewRDN(ctx *OperationContext, newRDN *RelativeDN) error {
	for i := 0; i < newRDN.NumValues(); i++ {
		attrType := newRDN.AttributeNameAt(i)
		a := NewAttribute(attrType, newRDN.AttributeValueAt(i))
		var duplicates []string
		ctx.NewEntry.AddAttribute(a, &duplicates)
		if len(duplicates) == 0 {
			if r.Schema.IsNoUserModification(newRDN.AttributeTypeAt(i)) && !(ctx.IsInternal || ctx.IsSynchronization) {
				return NewErrorf(ResultUnwillingToPerform,
					"cannot add new RDN value of NO-USER-MODIFICATION attribute %q", attrType)
			}
			ctx.Modifications = append(ctx.Modifications, Modification{Kind: ModAdd, Attribute: a})
		}
	}
	return nil
}

// ApplyPreOpModifications implements §4.4.4: applies every modification
// in ctx.Modifications from startPos onward (the ones pre-operation
// plugins appended) to ctx.NewEntry, then re-validates schema.
func (r *RDNRewriter) ApplyPreOpModifications(ctx *OperationContext, startPos int, checkSchema bool) error {
	for i := startPos; i < len(ctx.Modifications); i++ {
		m := ctx.Modifications[i]
		switch m.Kind {
		case ModAdd:
			var duplicates []string
			ctx.NewEntry.AddAttribute(m.Attribute, &duplicates)
		case ModDelete:
			var missing []string
			ctx.NewEntry.RemoveAttribute(m.Attribute, &missing)
		case ModReplace:
			ctx.NewEntry.RemoveAttributeTypeAndOptions(m.Attribute.Type, m.Attribute.Options)
			var duplicates []string
			ctx.NewEntry.AddAttribute(m.Attribute, &duplicates)
		case ModIncrement:
			if err := r.applyIncrement(ctx, m.Attribute); err != nil {
				return err
			}
		}
	}
	if checkSchema && !ctx.IsSynchronization {
		if err := r.Schema.Check(ctx.NewEntry.DN, ctx.NewEntry); err != nil {
			return err
		}
	}
	return nil
}

// applyIncrement implements the INCREMENT arm of §4.4.4, using the
// corrected semantics spec.md §9 calls for: currentLongValue comes from
// the entry's existing attribute, incrementAmount from the modification's
// own attribute — not both from the same collection.
func (r *RDNRewriter) applyIncrement(ctx *OperationContext, incr *Attribute) error {
	existing := ctx.NewEntry.GetAttribute(incr.Type, incr.Options)
	if len(existing) == 0 {
		return NewErrorf(ResultNoSuchAttribute, "cannot increment missing attribute %q", incr.Type)
	}
	if len(existing) > 1 {
		return NewErrorf(ResultConstraintViolation, "cannot increment ambiguous attribute %q (multiple attributes)", incr.Type)
	}
	current := existing[0]
	if len(current.Values) != 1 {
		return NewErrorf(ResultConstraintViolation, "cannot increment attribute %q with other than exactly one value", incr.Type)
	}
	if len(incr.Values) != 1 {
		return NewErrorf(ResultConstraintViolation, "increment modification for %q must carry exactly one amount", incr.Type)
	}
	currentLongValue, err := strconv.ParseInt(current.Values[0], 10, 64)
	if err != nil {
		return NewErrorf(ResultConstraintViolation, "cannot increment non-integer attribute %q", incr.Type)
	}
	incrementAmount, err := strconv.ParseInt(incr.Values[0], 10, 64)
	if err != nil {
		return NewErrorf(ResultConstraintViolation, "increment amount for %q is not an integer", incr.Type)
	}
	current.Values = []string{strconv.FormatInt(currentLongValue+incrementAmount, 10)}
	return nil
}
