package names

import (
	"fmt"
	"strings"
)

// ============================================================================
// Name mangling - BASIC identifiers to QBE-safe symbols
// ============================================================================
//
// BASIC names are case-insensitive and may end in a type sigil; QBE
// identifiers allow letters, digits, '_', '.' and '$'. Canonical form is
// upper case with the sigil rewritten to a suffix tag, so N and n are the
// same variable while N and N$ stay distinct.

// sigilTags maps a type sigil to its mangled suffix.
var sigilTags = map[byte]string{
	'$': "_s",
	'%': "_i",
	'&': "_l",
	'!': "_f",
	'#': "_d",
}

// reserved holds runtime and assembler-level words that user symbols must
// not shadow.
var reserved = map[string]bool{
	"MAIN":               true,
	"MALLOC":             true,
	"FREE":               true,
	"POW":                true,
	"SQRT":               true,
	"GOSUB_RETURN_STACK": true,
	"GOSUB_RETURN_SP":    true,
}

// Canon canonicalizes a BASIC identifier: upper case, sigil tagged.
func Canon(name string) string {
	if name == "" {
		return name
	}
	last := name[len(name)-1]
	if tag, ok := sigilTags[last]; ok {
		return strings.ToUpper(name[:len(name)-1]) + tag
	}
	return strings.ToUpper(name)
}

// escape keeps user symbols clear of the reserved namespace.
func escape(canon string) string {
	if reserved[canon] {
		return canon + "_"
	}
	return canon
}

// Var returns the local slot name for a scalar or array variable.
func Var(name string) string {
	return "v_" + escape(Canon(name))
}

// Global returns the data-section symbol for a global variable.
func Global(name string) string {
	return "g_" + escape(Canon(name))
}

// Func returns the function symbol for a user SUB or FUNCTION.
func Func(name string) string {
	return "fn_" + escape(Canon(name))
}

// Block returns the QBE label for a basic block. The id alone identifies
// the block; the symbolic label is kept for readability.
func Block(id int, label string) string {
	if label == "" {
		return fmt.Sprintf("b%d", id)
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			return r
		default:
			return '.'
		}
	}, label)
	return fmt.Sprintf("b%d.%s", id, clean)
}

// StringConst returns the data symbol for interned string literal i.
func StringConst(i int) string {
	return fmt.Sprintf("str.%d", i)
}

// ArrayDescriptor returns the data symbol for a global array descriptor.
func ArrayDescriptor(name string) string {
	return "arr_" + escape(Canon(name))
}
