package qbe

import (
	"fmt"
	"strconv"
	"strings"

	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/names"
)

// ============================================================================
// Data section
// ============================================================================
//
// Emitted after all functions: the GOSUB return stack, global scalars and
// array descriptor cells, the compiled DATA pool and the string literal
// pool. The string pool must come last - DATA entries intern literals.

// gosubStackDepth bounds the runtime GOSUB nesting.
const gosubStackDepth = 256

func (e *Emitter) emitData() string {
	var out strings.Builder

	// GOSUB return machinery and the error cell
	out.WriteString(fmt.Sprintf("data $gosub_return_stack = { z %d }\n", gosubStackDepth*4))
	out.WriteString("data $gosub_return_sp = { w 0 }\n")
	out.WriteString("data $err_code = { w 0 }\n")

	// program-storage variables
	for _, sym := range e.table.Globals() {
		if sym.IsArray {
			out.WriteString(fmt.Sprintf("data $%s = { z 8 }\n", names.ArrayDescriptor(sym.Name)))
			continue
		}
		out.WriteString(fmt.Sprintf("data $%s = { z %d }\n", names.Global(sym.Name), sym.Kind.Size()))
	}

	out.WriteString(e.emitDataPool())

	// string literals, in first-use order
	for i, lit := range e.pool {
		out.WriteString(fmt.Sprintf("data $%s = { b \"%s\", b 0 }\n",
			names.StringConst(i), escapeString(lit)))
	}

	return out.String()
}

// emitDataPool lays the DATA statements out as 16-byte tagged records:
// source line (w), tag (w, 0 numeric / 1 string), then an 8-byte payload
// holding the double value or the string pointer. The runtime cursor and
// the RESTORE line search both walk this table.
func (e *Emitter) emitDataPool() string {
	var items []string
	count := 0
	for _, entry := range e.prog.Analysis.Data {
		for _, v := range entry.Values {
			switch lit := v.(type) {
			case *ast.NumberLit:
				items = append(items, fmt.Sprintf("w %d, w 0, d d_%s",
					entry.Line, strconv.FormatFloat(lit.Value, 'g', -1, 64)))
			case *ast.StringLit:
				items = append(items, fmt.Sprintf("w %d, w 1, l %s",
					entry.Line, e.intern(lit.Value)))
			default:
				continue
			}
			count++
		}
	}
	var out strings.Builder
	if count > 0 {
		out.WriteString(fmt.Sprintf("data $data_pool = { %s }\n", strings.Join(items, ", ")))
	} else {
		out.WriteString("data $data_pool = { z 16 }\n")
	}
	out.WriteString(fmt.Sprintf("data $data_pool_count = { w %d }\n", count))
	out.WriteString("data $data_pool_pos = { w 0 }\n")
	return out.String()
}

func escapeString(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c < 0x20:
			sb.WriteString(fmt.Sprintf("\\x%02x", c))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
