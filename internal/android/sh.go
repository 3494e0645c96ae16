// Package android contains helpers for the Android shell environment.
package android

import "strings"

// Characters which never need quoting for /system/bin/sh (mksh). Everything
// else gets the argument single-quoted.
const safeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_@%+=:,./-"

// QuoteShell quotes the provided arguments for /system/bin/sh, joining them
// with spaces.
func QuoteShell(args ...string) string {
	var b strings.Builder
	for i, a := range args {
		if i != 0 {
			b.WriteByte(' ')
		}
		quote(&b, a)
	}
	return b.String()
}

func quote(b *strings.Builder, arg string) {
	if arg == "" {
		b.WriteString("''")
		return
	}
	safe := true
	for i := 0; i < len(arg); i++ {
		if !strings.ContainsRune(safeChars, rune(arg[i])) {
			safe = false
			break
		}
	}
	if safe {
		b.WriteString(arg)
		return
	}
	// Single-quote the whole argument; a literal single quote terminates the
	// string, emits an escaped quote, and starts a new string.
	b.WriteByte('\'')
	for i := 0; i < len(arg); i++ {
		if arg[i] == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteByte(arg[i])
		}
	}
	b.WriteByte('\'')
}
