package sqlgen

import (
	"fmt"
	"strings"
)

// writer accumulates the script in the banner-section style of
// hand-maintained migration files.
type writer struct {
	b strings.Builder
}

func (w *writer) section(title string) {
	w.b.WriteString("-- ============================================================\n")
	w.b.WriteString("-- " + title + "\n")
	w.b.WriteString("-- ============================================================\n\n")
}

func (w *writer) line(s string) {
	w.b.WriteString(s)
	w.b.WriteByte('\n')
}

func (w *writer) linef(format string, args ...interface{}) {
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

func (w *writer) blank() {
	w.b.WriteByte('\n')
}

func (w *writer) String() string {
	return w.b.String()
}

// quoteLiteral renders s as a SQL string literal with quotes doubled.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// textOrNull renders an optional text column value.
func textOrNull(s string) string {
	if s == "" {
		return "NULL"
	}
	return quoteLiteral(s)
}

func boolLiteral(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// policies emits the standard four per-table policies. noun reads as
// "their own areas" or "their categories"; predicate is the ownership
// condition shared by USING and WITH CHECK.
func (w *writer) policies(table, noun, predicate string) {
	type verb struct {
		action string
		cmd    string
		check  bool
	}
	for _, v := range []verb{
		{"view", "SELECT", false},
		{"create", "INSERT", true},
		{"update", "UPDATE", false},
		{"delete", "DELETE", false},
	} {
		w.linef("CREATE POLICY \"Users can %s %s\"", v.action, noun)
		w.linef("    ON %s FOR %s", table, v.cmd)
		if v.check {
			w.linef("    WITH CHECK (%s);", predicate)
		} else {
			w.linef("    USING (%s);", predicate)
		}
		w.blank()
	}
}
