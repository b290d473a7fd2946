package localbackend

// SchemaChecker is the schema-validation collaborator. The pipeline treats
// it as opaque (per spec.md §1's "schema validator" exclusion) beyond the
// handful of questions SchemaGate needs answered.
type SchemaChecker interface {
	// ConformsToSchema reports whether e satisfies the installed schema
	// (required/allowed attributes for its object classes, etc.), and a
	// human-readable reason when it doesn't.
	ConformsToSchema(e *Entry) (ok bool, reason string)
	// IsNoUserModification reports whether attrType is marked
	// NO-USER-MODIFICATION, meaning only internal/synchronization
	// operations may write it.
	IsNoUserModification(attrType string) bool
	// IsObsolete reports whether attrType's definition has been retired.
	IsObsolete(attrType string) bool
	// IsOperational reports whether attrType is an operational attribute,
	// as opposed to a user attribute.
	IsOperational(attrType string) bool
}

// SchemaGate validates a candidate entry against the installed schema at
// the checkpoints the RDN rewriter calls out: once after the RDN itself is
// rewritten, and again after any pre-operation plugin modifications are
// applied.
type SchemaGate struct {
	Checker SchemaChecker
}

// NewSchemaGate returns a SchemaGate backed by checker. A nil checker
// makes Check always pass, matching an environment with schema checking
// disabled.
func NewSchemaGate(checker SchemaChecker) *SchemaGate {
	return &SchemaGate{Checker: checker}
}

// Check validates e, returning an *Error with ResultObjectClassViolation
// when the entry doesn't conform. entryDN is used only to build the error
// message.
func (g *SchemaGate) Check(entryDN *DN, e *Entry) error {
	if g == nil || g.Checker == nil {
		return nil
	}
	if ok, reason := g.Checker.ConformsToSchema(e); !ok {
		return NewErrorf(ResultObjectClassViolation,
			"entry %s violates the server schema: %s", entryDN, reason)
	}
	return nil
}

// CheckObsoleteRDNAttributes fails with ResultUnwillingToPerform if any of
// the new RDN's attribute types has been marked obsolete.
func (g *SchemaGate) CheckObsoleteRDNAttributes(entryDN *DN, newRDN *RelativeDN) error {
	if g == nil || g.Checker == nil {
		return nil
	}
	for i := 0; i < newRDN.NumValues(); i++ {
		at := newRDN.AttributeTypeAt(i)
		if g.Checker.IsObsolete(at) {
			return NewErrorf(ResultUnwillingToPerform,
				"entry %s: new RDN attribute type %q is obsolete", entryDN, at)
		}
	}
	return nil
}

// IsNoUserModification is a nil-safe wrapper over the checker.
func (g *SchemaGate) IsNoUserModification(attrType string) bool {
	if g == nil || g.Checker == nil {
		return false
	}
	return g.Checker.IsNoUserModification(attrType)
}
