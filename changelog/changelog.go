// Package changelog renders successful Modify-DN operations as RFC 2849
// LDIF change records, finishing the changetype: moddn/modrdn support the
// teacher's ldif package left as a commented-out stub.
package changelog

import (
	"encoding/base64"
	"fmt"

	lb "github.com/Kortanul/opendj"
)

var foldWidth = 76

// Listener renders each successful rename as an LDIF change record and
// hands it to Write. It implements lb.ChangeNotificationListener, wired
// in at phase 20 of the state machine.
type Listener struct {
	// Write receives one complete, newline-terminated LDIF record per
	// successful rename. A nil Write makes the listener a no-op.
	Write func(record string)
	// FoldWidth overrides the default 76-column line folding; 0 uses the
	// default, negative disables folding.
	FoldWidth int
}

// NewListener returns a Listener that hands each record to write.
func NewListener(write func(record string)) *Listener {
	return &Listener{Write: write}
}

// HandleModifyDNOperation renders ctx's rename as a changetype: modrdn (or
// moddn, when a new superior was given) LDIF record.
func (l *Listener) HandleModifyDNOperation(ctx *lb.OperationContext, oldEntry, newEntry *lb.Entry) error {
	if l.Write == nil {
		return nil
	}
	l.Write(Render(ctx, l.FoldWidth))
	return nil
}

// Render produces the LDIF change record for ctx's rename, independent of
// any listener plumbing, so callers (and tests) can render without
// wiring a full Listener.
func Render(ctx *lb.OperationContext, fw int) string {
	if fw == 0 {
		fw = foldWidth
	}

	changeType := "modrdn"
	if ctx.NewSuperior != nil && !ctx.NewSuperior.IsNullDN() {
		changeType = "moddn"
	}

	delOld := 0
	if ctx.DeleteOldRDN {
		delOld = 1
	}

	var out string
	out += foldLine(attrLine("dn", ctx.EntryDN.String()), fw) + "\n"
	out += foldLine("changetype: "+changeType, fw) + "\n"
	out += foldLine(attrLine("newrdn", ctx.NewRDN.String()), fw) + "\n"
	out += foldLine(fmt.Sprintf("deleteoldrdn: %d", delOld), fw) + "\n"
	if changeType == "moddn" {
		out += foldLine(attrLine("newsuperior", ctx.NewSuperior.String()), fw) + "\n"
	}
	out += "\n"
	return out
}

// attrLine renders "name: value" or, when value needs base64 encoding
// per RFC 2849, "name:: <base64>".
func attrLine(name, value string) string {
	encoded, usedBase64 := encodeValue(value)
	if usedBase64 {
		return name + ":: " + encoded
	}
	return name + ": " + encoded
}

// encodeValue reports the base64-safe rendering of value, and whether
// base64 encoding was required (any byte outside the printable ASCII
// range RFC 2849 allows unencoded).
func encodeValue(value string) (string, bool) {
	for _, r := range value {
		if r < ' ' || r > '~' {
			return base64.StdEncoding.EncodeToString([]byte(value)), true
		}
	}
	return value, false
}

// foldLine wraps line at fw columns per RFC 2849's line-folding rule:
// continuation lines are indented by one space consuming one column of
// the fold width.
func foldLine(line string, fw int) string {
	if fw < 0 || len(line) <= fw {
		return line
	}
	folded := line[:fw] + "\n"
	line = line[fw:]
	for len(line) > fw-1 {
		folded += " " + line[:fw-1] + "\n"
		line = line[fw-1:]
	}
	if len(line) > 0 {
		folded += " " + line
	}
	return folded
}
