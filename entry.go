package localbackend

import "strings"

// Attribute is one named, possibly multi-valued attribute of an Entry.
// Options (e.g. "cn;lang-fr") are kept separate from the base type so
// type+options pairs can be compared independently of value order.
type Attribute struct {
	Type    string
	Options []string
	Values  []string
}

// key identifies an attribute by type+options, case-insensitively on
// the type, for use as a map key.
func (a *Attribute) key() string {
	return strings.ToLower(a.Type) + "/" + strings.Join(a.Options, ",")
}

// sameTypeAndOptions reports whether a and o address the same slot of an
// entry (same type, same option set, order-insensitive).
func (a *Attribute) sameTypeAndOptions(o *Attribute) bool {
	if !strings.EqualFold(a.Type, o.Type) {
		return false
	}
	if len(a.Options) != len(o.Options) {
		return false
	}
	seen := map[string]bool{}
	for _, opt := range a.Options {
		seen[strings.ToLower(opt)] = true
	}
	for _, opt := range o.Options {
		if !seen[strings.ToLower(opt)] {
			return false
		}
	}
	return true
}

// NewAttribute builds a single-valued attribute, the shape the RDN
// rewriter constructs for each (type, value) pair of an RDN.
func NewAttribute(attrType, value string) *Attribute {
	return &Attribute{Type: attrType, Values: []string{value}}
}

// Entry is a DN plus its attributes, keyed by lower-cased attribute type.
type Entry struct {
	DN         *DN
	Attributes map[string][]*Attribute
}

// NewEntry returns an empty entry rooted at dn.
func NewEntry(dn *DN) *Entry {
	return &Entry{DN: dn, Attributes: map[string][]*Attribute{}}
}

// SetDN replaces the entry's DN in place.
func (e *Entry) SetDN(dn *DN) {
	e.DN = dn
}

// Duplicate returns a copy of e. When deep is true, attribute value slices
// are copied too (needed before handing the entry out as a read-entry
// response control, so later mutation of the live entry can't leak
// through); when false, value slices are shared (the candidate entry built
// for a rename doesn't need its own copies until it's actually mutated).
func (e *Entry) Duplicate(deep bool) *Entry {
	out := NewEntry(e.DN.Clone())
	for key, attrs := range e.Attributes {
		cloned := make([]*Attribute, len(attrs))
		for i, a := range attrs {
			if !deep {
				cloned[i] = &Attribute{Type: a.Type, Options: a.Options, Values: a.Values}
				continue
			}
			na := &Attribute{Type: a.Type, Options: append([]string{}, a.Options...), Values: append([]string{}, a.Values...)}
			cloned[i] = na
		}
		out.Attributes[key] = cloned
	}
	return out
}

// GetAttribute returns the attributes under attrType matching options
// (order-insensitive), or nil if none match.
func (e *Entry) GetAttribute(attrType string, options []string) []*Attribute {
	probe := &Attribute{Type: attrType, Options: options}
	var out []*Attribute
	for _, a := range e.Attributes[strings.ToLower(attrType)] {
		if a.sameTypeAndOptions(probe) {
			out = append(out, a)
		}
	}
	return out
}

// AddAttribute merges a into the entry. Values of a already present under
// the same type+options are reported in outDuplicateValues rather than
// being added again; a is added even if it shares the type+options with an
// existing attribute (their value sets are unioned).
func (e *Entry) AddAttribute(a *Attribute, outDuplicateValues *[]string) {
	key := strings.ToLower(a.Type)
	slot := e.Attributes[key]
	for _, existing := range slot {
		if !existing.sameTypeAndOptions(a) {
			continue
		}
		for _, v := range a.Values {
			if containsFold(existing.Values, v) {
				if outDuplicateValues != nil {
					*outDuplicateValues = append(*outDuplicateValues, v)
				}
				continue
			}
			existing.Values = append(existing.Values, v)
		}
		return
	}
	na := &Attribute{Type: a.Type, Options: append([]string{}, a.Options...), Values: append([]string{}, a.Values...)}
	e.Attributes[key] = append(slot, na)
}

// RemoveAttribute removes a's values from the matching attribute. Values
// that weren't present are reported in outMissingValues. An attribute left
// with no values after removal is dropped entirely. a must carry at least
// one value; to remove an attribute wholesale regardless of its values,
// use RemoveAttributeTypeAndOptions.
func (e *Entry) RemoveAttribute(a *Attribute, outMissingValues *[]string) {
	key := strings.ToLower(a.Type)
	slot := e.Attributes[key]
	var kept []*Attribute
	for _, existing := range slot {
		if !existing.sameTypeAndOptions(a) {
			kept = append(kept, existing)
			continue
		}
		remainingValues := existing.Values[:0:0]
		remaining := map[string]bool{}
		for _, v := range existing.Values {
			remaining[strings.ToLower(v)] = true
		}
		for _, v := range a.Values {
			if remaining[strings.ToLower(v)] {
				delete(remaining, strings.ToLower(v))
			} else if outMissingValues != nil {
				*outMissingValues = append(*outMissingValues, v)
			}
		}
		for _, v := range existing.Values {
			if remaining[strings.ToLower(v)] {
				remainingValues = append(remainingValues, v)
				delete(remaining, strings.ToLower(v))
			}
		}
		existing.Values = remainingValues
		if len(existing.Values) > 0 {
			kept = append(kept, existing)
		}
	}
	e.setSlot(key, kept)
}

// RemoveAttributeTypeAndOptions removes the whole attribute (every value)
// matching attrType+options, regardless of which values it holds. Used by
// REPLACE modifications, which discard the old value set outright before
// adding the new one.
func (e *Entry) RemoveAttributeTypeAndOptions(attrType string, options []string) {
	probe := &Attribute{Type: attrType, Options: options}
	key := strings.ToLower(attrType)
	var kept []*Attribute
	for _, existing := range e.Attributes[key] {
		if !existing.sameTypeAndOptions(probe) {
			kept = append(kept, existing)
		}
	}
	e.setSlot(key, kept)
}

func (e *Entry) setSlot(key string, attrs []*Attribute) {
	if len(attrs) == 0 {
		delete(e.Attributes, key)
		return
	}
	e.Attributes[key] = attrs
}

// PutAttribute replaces whatever is stored under attrType wholesale.
func (e *Entry) PutAttribute(attrType string, attrs []*Attribute) {
	key := strings.ToLower(attrType)
	if len(attrs) == 0 {
		delete(e.Attributes, key)
		return
	}
	e.Attributes[key] = attrs
}

// RemoveAttributeType drops every attribute (across all option sets) under
// attrType.
func (e *Entry) RemoveAttributeType(attrType string) {
	delete(e.Attributes, strings.ToLower(attrType))
}

// UserAttributes returns attribute types the schema classifies as user
// (non-operational) attributes, per the SchemaChecker.
func (e *Entry) UserAttributes(schema SchemaChecker) map[string][]*Attribute {
	return e.partition(schema, false)
}

// OperationalAttributes returns attribute types the schema classifies as
// operational.
func (e *Entry) OperationalAttributes(schema SchemaChecker) map[string][]*Attribute {
	return e.partition(schema, true)
}

func (e *Entry) partition(schema SchemaChecker, operational bool) map[string][]*Attribute {
	out := map[string][]*Attribute{}
	for key, attrs := range e.Attributes {
		isOperational := schema != nil && schema.IsOperational(key)
		if isOperational == operational {
			out[key] = attrs
		}
	}
	return out
}

// ConformsToSchema delegates to schema's entry-level check.
func (e *Entry) ConformsToSchema(schema SchemaChecker) (bool, string) {
	if schema == nil {
		return true, ""
	}
	return schema.ConformsToSchema(e)
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
