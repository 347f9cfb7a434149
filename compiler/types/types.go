package types

import "strings"

// ============================================================================
// BASIC type model and QBE type mapping
// ============================================================================

// Kind is the declared base type of a value.
type Kind uint8

const (
	Integer Kind = iota // 16/32-bit integer, QBE w
	Long                // 64-bit integer, QBE l
	Single              // 32-bit float, QBE s
	Double              // 64-bit float, QBE d
	String              // refcounted string handle, QBE l
	Record              // user-defined record, QBE l (pointer)
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "INTEGER"
	case Long:
		return "LONG"
	case Single:
		return "SINGLE"
	case Double:
		return "DOUBLE"
	case String:
		return "STRING"
	default:
		return "RECORD"
	}
}

// QBE returns the QBE base type used for values of this kind.
func (k Kind) QBE() string {
	switch k {
	case Integer:
		return "w"
	case Long, String, Record:
		return "l"
	case Single:
		return "s"
	default:
		return "d"
	}
}

// Size returns the storage size in bytes.
func (k Kind) Size() int {
	switch k {
	case Integer, Single:
		return 4
	default:
		return 8
	}
}

// Alloc returns the QBE stack allocation instruction for this kind.
func (k Kind) Alloc() string {
	if k.Size() == 4 {
		return "alloc4"
	}
	return "alloc8"
}

// StoreOp returns the QBE store instruction for this kind.
func (k Kind) StoreOp() string {
	return "store" + k.QBE()
}

// LoadOp returns the QBE load instruction for this kind.
func (k Kind) LoadOp() string {
	switch k {
	case Integer:
		return "loadsw"
	case Long, String, Record:
		return "loadl"
	case Single:
		return "loads"
	default:
		return "loadd"
	}
}

// IsNumeric reports whether the kind is an arithmetic type.
func (k Kind) IsNumeric() bool {
	return k != String && k != Record
}

// IsFloat reports whether the kind is a floating-point type.
func (k Kind) IsFloat() bool {
	return k == Single || k == Double
}

// Suffix returns the type sigil byte used in runtime array descriptors.
func (k Kind) Suffix() byte {
	switch k {
	case Integer:
		return '%'
	case Long:
		return '&'
	case Single:
		return '!'
	case String:
		return '$'
	default:
		return '#'
	}
}

// FromSigil derives the kind of an identifier from its trailing sigil.
// A name without a sigil defaults to DOUBLE.
func FromSigil(name string) Kind {
	if name == "" {
		return Double
	}
	switch name[len(name)-1] {
	case '$':
		return String
	case '%':
		return Integer
	case '&':
		return Long
	case '!':
		return Single
	case '#':
		return Double
	default:
		return Double
	}
}

// FromName maps an AS-clause type keyword to a kind.
// Unknown names report ok=false (user record types resolve elsewhere).
func FromName(name string) (Kind, bool) {
	switch strings.ToUpper(name) {
	case "INTEGER":
		return Integer, true
	case "LONG":
		return Long, true
	case "SINGLE":
		return Single, true
	case "DOUBLE":
		return Double, true
	case "STRING":
		return String, true
	default:
		return Double, false
	}
}

// Promote returns the common type for a binary arithmetic operation.
// The ladder is Double > Single > Long > Integer.
func Promote(a, b Kind) Kind {
	if a == String || b == String {
		return String
	}
	if a == Double || b == Double {
		return Double
	}
	if a == Single || b == Single {
		// mixing a 32-bit float with a 64-bit integer widens to double
		if a == Long || b == Long {
			return Double
		}
		return Single
	}
	if a == Long || b == Long {
		return Long
	}
	return Integer
}

// ConvertOp returns the QBE instruction converting a value of kind
// `from` into kind `to`, or "" when no instruction is needed.
// The result class of the emitted instruction is to.QBE().
func ConvertOp(from, to Kind) string {
	if from.QBE() == to.QBE() {
		return ""
	}
	switch from {
	case Integer:
		switch to {
		case Long:
			return "extsw"
		case Single, Double:
			return "swtof"
		}
	case Long:
		switch to {
		case Integer:
			return "copy"
		case Single, Double:
			return "sltof"
		}
	case Single:
		switch to {
		case Integer, Long:
			return "stosi"
		case Double:
			return "exts"
		}
	case Double:
		switch to {
		case Integer, Long:
			return "dtosi"
		case Single:
			return "truncd"
		}
	}
	return ""
}
