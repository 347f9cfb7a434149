package qbe

import (
	"fmt"
	"strconv"

	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/names"
	"fbcqbe/compiler/sem"
	"fbcqbe/compiler/types"
)

// ============================================================================
// Expression emission
// ============================================================================
//
// Every expression produces a (operand, kind) pair; operands are QBE
// temporaries or inline constants. Comparisons yield the dialect's truth
// values 0/-1 so that bitwise NOT/AND/OR compose the way the language
// promises.

type value struct {
	name string
	kind types.Kind
}

func (e *Emitter) emitExpr(expr ast.Expression) value {
	switch x := expr.(type) {
	case *ast.NumberLit:
		return e.emitNumber(x)
	case *ast.StringLit:
		return value{e.intern(x.Value), types.String}
	case *ast.VarRef:
		return e.emitVarLoad(x)
	case *ast.ArrayRef:
		return e.emitArrayLoad(x.Name, x.Indices)
	case *ast.UnaryExpr:
		return e.emitUnary(x)
	case *ast.BinaryExpr:
		return e.emitBinary(x)
	case *ast.CallExpr:
		return e.emitCall(x)
	case *ast.IIfExpr:
		return e.emitIIf(x)
	case nil:
		e.line("# missing expression")
		return value{"0", types.Integer}
	default:
		e.line("# unknown expression %T", expr)
		return value{"0", types.Integer}
	}
}

func (e *Emitter) emitNumber(x *ast.NumberLit) value {
	if x.IsInt {
		n := int64(x.Value)
		if n >= -2147483648 && n <= 2147483647 {
			return value{strconv.FormatInt(n, 10), types.Integer}
		}
		return value{strconv.FormatInt(n, 10), types.Long}
	}
	return value{"d_" + strconv.FormatFloat(x.Value, 'g', -1, 64), types.Double}
}

func (e *Emitter) emitVarLoad(x *ast.VarRef) value {
	sym, ok := e.table.Lookup(e.fn.owner, x.Name)
	if !ok {
		e.line("# undeclared variable %s", x.Name)
		return value{"0", types.Integer}
	}
	if sym.Kind == types.Record {
		// records are addressed, not loaded
		return value{e.slot(sym), types.Record}
	}
	t := e.temp()
	e.line("%s =%s %s %s", t, sym.Kind.QBE(), sym.Kind.LoadOp(), e.slot(sym))
	return value{t, sym.Kind}
}

// convert coerces a value into the target kind using the type mapper's
// conversion ops.
func (e *Emitter) convert(v value, to types.Kind) value {
	if v.kind == to {
		return v
	}
	op := types.ConvertOp(v.kind, to)
	if op == "" {
		// same register class; reinterpret
		return value{v.name, to}
	}
	t := e.temp()
	e.line("%s =%s %s %s", t, to.QBE(), op, v.name)
	return value{t, to}
}

// ============================================================================
// Operators
// ============================================================================

func (e *Emitter) emitUnary(x *ast.UnaryExpr) value {
	v := e.emitExpr(x.Operand)
	switch x.Op {
	case "-":
		if !v.kind.IsNumeric() {
			e.line("# negation of non-numeric value")
			return value{"0", types.Integer}
		}
		t := e.temp()
		e.line("%s =%s neg %s", t, v.kind.QBE(), v.name)
		return value{t, v.kind}
	case "NOT":
		iv := e.toIntegral(v)
		t := e.temp()
		e.line("%s =%s xor %s, -1", t, iv.kind.QBE(), iv.name)
		return value{t, iv.kind}
	default:
		e.line("# unknown unary operator %s", x.Op)
		return v
	}
}

// toIntegral converts a value to an integer kind for bitwise work.
func (e *Emitter) toIntegral(v value) value {
	switch v.kind {
	case types.Integer, types.Long:
		return v
	default:
		return e.convert(v, types.Long)
	}
}

func (e *Emitter) emitBinary(x *ast.BinaryExpr) value {
	left := e.emitExpr(x.Left)
	right := e.emitExpr(x.Right)

	switch x.Op {
	case "=", "<>", "<", "<=", ">", ">=":
		return value{e.emitCompare(x.Op, left, right), types.Integer}
	case "&":
		return e.emitConcat(left, right)
	case "+":
		if left.kind == types.String || right.kind == types.String {
			return e.emitConcat(left, right)
		}
		return e.emitArith("add", left, right)
	case "-":
		return e.emitArith("sub", left, right)
	case "*":
		return e.emitArith("mul", left, right)
	case "/":
		l := e.convert(left, types.Double)
		r := e.convert(right, types.Double)
		t := e.temp()
		e.line("%s =d div %s, %s", t, l.name, r.name)
		return value{t, types.Double}
	case "\\":
		l := e.convert(left, types.Long)
		r := e.convert(right, types.Long)
		t := e.temp()
		e.line("%s =l div %s, %s", t, l.name, r.name)
		return value{t, types.Long}
	case "MOD":
		l := e.convert(left, types.Long)
		r := e.convert(right, types.Long)
		t := e.temp()
		e.line("%s =l rem %s, %s", t, l.name, r.name)
		return value{t, types.Long}
	case "^":
		l := e.convert(left, types.Double)
		r := e.convert(right, types.Double)
		t := e.temp()
		e.line("%s =d call $%s(d %s, d %s)", t, rtPow, l.name, r.name)
		return value{t, types.Double}
	case "AND", "OR", "XOR":
		l := e.toIntegral(left)
		r := e.toIntegral(right)
		k := types.Promote(l.kind, r.kind)
		l = e.convert(l, k)
		r = e.convert(r, k)
		t := e.temp()
		var op string
		switch x.Op {
		case "AND":
			op = "and"
		case "OR":
			op = "or"
		default:
			op = "xor"
		}
		e.line("%s =%s %s %s, %s", t, k.QBE(), op, l.name, r.name)
		return value{t, k}
	default:
		e.line("# unknown binary operator %s", x.Op)
		return value{"0", types.Integer}
	}
}

func (e *Emitter) emitArith(op string, left, right value) value {
	if !left.kind.IsNumeric() || !right.kind.IsNumeric() {
		e.line("# arithmetic on non-numeric value")
		return value{"0", types.Integer}
	}
	k := types.Promote(left.kind, right.kind)
	l := e.convert(left, k)
	r := e.convert(right, k)
	t := e.temp()
	e.line("%s =%s %s %s, %s", t, k.QBE(), op, l.name, r.name)
	return value{t, k}
}

func (e *Emitter) emitConcat(left, right value) value {
	if left.kind != types.String || right.kind != types.String {
		e.line("# concatenation of non-string value")
		return value{"0", types.Integer}
	}
	t := e.temp()
	e.line("%s =l call $%s(l %s, l %s)", t, rtStringConcat, left.name, right.name)
	return value{t, types.String}
}

// cmpOp maps a source comparison operator onto the QBE opcode for a kind.
func cmpOp(op string, k types.Kind) string {
	var stem string
	switch op {
	case "=":
		stem = "eq"
	case "<>":
		stem = "ne"
	case "<":
		stem = "lt"
	case "<=":
		stem = "le"
	case ">":
		stem = "gt"
	case ">=":
		stem = "ge"
	}
	signed := ""
	if !k.IsFloat() && stem != "eq" && stem != "ne" {
		signed = "s"
	}
	return "c" + signed + stem + k.QBE()
}

// emitCompare yields the 0/-1 truth of a comparison as a w temp.
func (e *Emitter) emitCompare(op string, left, right value) string {
	if left.kind == types.String || right.kind == types.String {
		if left.kind != right.kind {
			e.line("# comparison of string and number")
			return "0"
		}
		ord := e.temp()
		e.line("%s =w call $%s(l %s, l %s)", ord, rtStringCompare, left.name, right.name)
		c := e.temp()
		e.line("%s =w %s %s, 0", c, cmpOp(op, types.Integer), ord)
		return e.negate(c)
	}
	k := types.Promote(left.kind, right.kind)
	l := e.convert(left, k)
	r := e.convert(right, k)
	c := e.temp()
	e.line("%s =w %s %s, %s", c, cmpOp(op, k), l.name, r.name)
	return e.negate(c)
}

// negate turns a 0/1 flag into the 0/-1 truth value.
func (e *Emitter) negate(flag string) string {
	t := e.temp()
	e.line("%s =w neg %s", t, flag)
	return t
}

// ============================================================================
// Calls - arrays, user functions, intrinsics
// ============================================================================

func (e *Emitter) emitCall(x *ast.CallExpr) value {
	if sym, ok := e.table.Lookup(e.fn.owner, x.Name); ok && sym.IsArray {
		return e.emitArrayLoad(x.Name, x.Args)
	}
	if fn, ok := e.table.LookupFunc(x.Name); ok {
		return e.emitUserCall(fn, x.Args)
	}
	return e.emitIntrinsic(x)
}

// emitArrayLoad loads one bounds-checked element.
func (e *Emitter) emitArrayLoad(name string, indices []ast.Expression) value {
	sym, ok := e.table.Lookup(e.fn.owner, name)
	if !ok || !sym.IsArray {
		e.line("# undeclared array %s", name)
		return value{"0", types.Integer}
	}
	addr := e.emitArrayAddress(sym, indices)
	t := e.temp()
	e.line("%s =%s %s %s", t, sym.ElemKind.QBE(), sym.ElemKind.LoadOp(), addr)
	return value{t, sym.ElemKind}
}

// emitArrayAddress asks the runtime for the checked element address.
func (e *Emitter) emitArrayAddress(sym *sem.VarSymbol, indices []ast.Expression) string {
	desc := e.temp()
	e.line("%s =l loadl %s", desc, e.slot(sym))
	i1 := value{"0", types.Integer}
	i2 := value{"0", types.Integer}
	if len(indices) > 0 {
		i1 = e.convert(e.emitExpr(indices[0]), types.Integer)
	}
	if len(indices) > 1 {
		i2 = e.convert(e.emitExpr(indices[1]), types.Integer)
	}
	addr := e.temp()
	e.line("%s =l call $%s(l %s, w %s, w %s)", addr, rtArrayGetAddress, desc, i1.name, i2.name)
	return addr
}

// emitUserCall emits a direct call to a mangled SUB/FUNCTION symbol.
// Float arguments widen to d at the boundary.
func (e *Emitter) emitUserCall(fn *sem.FuncSymbol, args []ast.Expression) value {
	var operands []string
	for i, arg := range args {
		v := e.emitExpr(arg)
		if i < len(fn.Params) {
			v = e.convert(v, fn.Params[i].Kind)
		}
		if v.kind.IsFloat() {
			v = e.convert(v, types.Double)
		}
		operands = append(operands, fmt.Sprintf("%s %s", abi(v.kind), v.name))
	}
	symbol := "$" + names.Func(fn.Source)
	if fn.IsSub {
		e.line("call %s(%s)", symbol, joinOperands(operands))
		return value{"0", types.Integer}
	}
	t := e.temp()
	e.line("%s =%s call %s(%s)", t, abi(fn.Return), symbol, joinOperands(operands))
	result := value{t, fn.Return}
	if fn.Return == types.Single {
		result = e.convert(value{t, types.Double}, types.Single)
	}
	return result
}

func (e *Emitter) emitIntrinsic(x *ast.CallExpr) value {
	canon := names.Canon(x.Name)
	spec, ok := intrinsics[canon]
	if !ok {
		e.warnf(x.Location(), "unknown intrinsic or function %s", x.Name)
		e.line("# unknown intrinsic %s", x.Name)
		return value{"0", types.Integer}
	}
	if len(x.Args) != len(spec.args) {
		e.line("# %s expects %d arguments", x.Name, len(spec.args))
		return value{"0", types.Integer}
	}
	var operands []string
	for i, arg := range x.Args {
		v := e.emitExpr(arg)
		switch spec.args[i] {
		case 'd':
			v = e.convert(v, types.Double)
		case 'w':
			v = e.convert(v, types.Integer)
		case 's':
			if v.kind != types.String {
				e.line("# %s argument %d must be a string", x.Name, i+1)
				return value{"0", types.Integer}
			}
		}
		operands = append(operands, fmt.Sprintf("%s %s", abi(v.kind), v.name))
	}
	ret := kindOfCode(spec.ret)
	t := e.temp()
	e.line("%s =%s call $%s(%s)", t, abi(ret), spec.symbol, joinOperands(operands))
	return value{t, ret}
}

func kindOfCode(code byte) types.Kind {
	switch code {
	case 'd':
		return types.Double
	case 'l':
		return types.Long
	case 's':
		return types.String
	default:
		return types.Integer
	}
}

func joinOperands(operands []string) string {
	out := ""
	for i, op := range operands {
		if i > 0 {
			out += ", "
		}
		out += op
	}
	return out
}

// ============================================================================
// IIF
// ============================================================================

// emitIIf evaluates both arms eagerly, then selects through a stack slot.
// The backend IR has no select instruction and no indirect jumps, so the
// choice is a two-way branch inside the block's text.
func (e *Emitter) emitIIf(x *ast.IIfExpr) value {
	cond := e.truth(e.emitExpr(x.Cond))
	whenTrue := e.emitExpr(x.WhenTrue)
	whenFalse := e.emitExpr(x.WhenFalse)

	k := whenTrue.kind
	if whenTrue.kind.IsNumeric() && whenFalse.kind.IsNumeric() {
		k = types.Promote(whenTrue.kind, whenFalse.kind)
	}
	whenTrue = e.convert(whenTrue, k)
	whenFalse = e.convert(whenFalse, k)

	slot := e.temp()
	e.line("%s =l alloc8 8", slot)
	takeTrue := e.label("iif.t")
	takeFalse := e.label("iif.f")
	join := e.label("iif.join")
	e.line("jnz %s, %s, %s", cond, takeTrue, takeFalse)
	e.rawLine("%s", takeTrue)
	e.line("%s %s, %s", k.StoreOp(), whenTrue.name, slot)
	e.line("jmp %s", join)
	e.rawLine("%s", takeFalse)
	e.line("%s %s, %s", k.StoreOp(), whenFalse.name, slot)
	e.line("jmp %s", join)
	e.rawLine("%s", join)
	t := e.temp()
	e.line("%s =%s %s %s", t, k.QBE(), k.LoadOp(), slot)
	return value{t, k}
}
