package qbe

import (
	"fmt"

	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/cfg"
	"fbcqbe/compiler/types"
)

// ============================================================================
// Statement emission
// ============================================================================
//
// Statements whose semantics are purely control flow emit nothing here;
// their effect lives entirely in the block's terminator. Declarative
// statements (LOCAL, SHARED, GLOBAL, REM, DATA) were consumed upstream.

func (e *Emitter) emitStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		val := e.emitExpr(s.Value)
		e.emitStore(s.Target, val)
	case *ast.PrintStmt:
		e.emitPrint(s)
	case *ast.InputStmt:
		e.emitInput(s)
	case *ast.ReadStmt:
		e.emitRead(s)
	case *ast.RestoreStmt:
		e.line("call $%s(w %d)", rtRestoreData, s.TargetLine)
	case *ast.DimStmt:
		for _, d := range s.Arrays {
			e.emitDim(d)
		}
	case *ast.RedimStmt:
		for _, d := range s.Arrays {
			e.emitRedim(d, s.Preserve)
		}
	case *ast.EraseStmt:
		e.emitErase(s)
	case *ast.CallStmt:
		e.emitSubCall(s)
	case *ast.EndStmt:
		e.emitEpilogue()
	case *ast.ThrowStmt:
		e.emitThrow(s)
	default:
		// control flow: handled by the terminator
	}
}

// ============================================================================
// Assignment - including the refcounted string protocol
// ============================================================================

// emitStore converts the value to the target's declared kind and stores
// it. String targets follow the retain/release protocol: the old pointer
// is released only after the new one is stored, so self-assignment is
// safe.
func (e *Emitter) emitStore(target ast.Expression, val value) {
	switch t := target.(type) {
	case *ast.VarRef:
		sym, ok := e.table.Lookup(e.fn.owner, t.Name)
		if !ok {
			e.line("# store to undeclared variable %s", t.Name)
			return
		}
		v := e.convert(val, sym.Kind)
		if sym.Kind == types.String {
			e.emitStringStore(e.slot(sym), v.name)
			return
		}
		e.line("%s %s, %s", sym.Kind.StoreOp(), v.name, e.slot(sym))
	case *ast.ArrayRef:
		sym, ok := e.table.Lookup(e.fn.owner, t.Name)
		if !ok || !sym.IsArray {
			e.line("# store to undeclared array %s", t.Name)
			return
		}
		addr := e.emitArrayAddress(sym, t.Indices)
		v := e.convert(val, sym.ElemKind)
		if sym.ElemKind == types.String {
			e.emitStringStore(addr, v.name)
			return
		}
		e.line("%s %s, %s", sym.ElemKind.StoreOp(), v.name, addr)
	default:
		e.line("# malformed assignment target %T", target)
	}
}

func (e *Emitter) emitStringStore(addr, newVal string) {
	old := e.temp()
	e.line("%s =l loadl %s", old, addr)
	e.line("call $%s(l %s)", rtStringRetain, newVal)
	e.line("storel %s, %s", newVal, addr)
	e.line("call $%s(l %s)", rtStringRelease, old)
}

// ============================================================================
// PRINT / INPUT / READ
// ============================================================================

func (e *Emitter) emitPrint(s *ast.PrintStmt) {
	for _, item := range s.Items {
		val := e.emitExpr(item.Expr)
		switch val.kind {
		case types.Integer:
			e.line("call $%s(w %s)", rtPrintInt, val.name)
		case types.Long:
			e.line("call $%s(l %s)", rtPrintLong, val.name)
		case types.Single, types.Double:
			wide := e.convert(val, types.Double)
			e.line("call $%s(d %s)", rtPrintDouble, wide.name)
		case types.String:
			e.line("call $%s(l %s)", rtPrintString, val.name)
		default:
			e.line("# PRINT of unprintable value")
		}
		if item.Sep == ',' {
			e.line("call $%s()", rtPrintTab)
		}
	}
	if len(s.Items) == 0 || s.Items[len(s.Items)-1].Sep != ';' {
		e.line("call $%s()", rtPrintNewline)
	}
}

func (e *Emitter) emitInput(s *ast.InputStmt) {
	if s.Prompt != "" {
		e.line("call $%s(l %s)", rtPrintString, e.intern(s.Prompt))
	}
	for _, target := range s.Targets {
		kind := e.targetKind(target)
		var val value
		switch kind {
		case types.Integer:
			t := e.temp()
			e.line("%s =w call $%s()", t, rtInputInt)
			val = value{t, types.Integer}
		case types.Long:
			t := e.temp()
			e.line("%s =l call $%s()", t, rtInputLong)
			val = value{t, types.Long}
		case types.String:
			t := e.temp()
			e.line("%s =l call $%s()", t, rtInputString)
			val = value{t, types.String}
		default:
			t := e.temp()
			e.line("%s =d call $%s()", t, rtInputDouble)
			val = value{t, types.Double}
		}
		e.emitStore(target, val)
	}
}

// emitRead pulls type-tagged values off the compiled DATA pool; the
// runtime aborts the program on exhaustion or tag mismatch.
func (e *Emitter) emitRead(s *ast.ReadStmt) {
	for _, target := range s.Targets {
		if e.targetKind(target) == types.String {
			t := e.temp()
			e.line("%s =l call $%s()", t, rtReadDataString)
			e.emitStore(target, value{t, types.String})
			continue
		}
		t := e.temp()
		e.line("%s =d call $%s()", t, rtReadDataNumber)
		e.emitStore(target, value{t, types.Double})
	}
}

// targetKind resolves the declared kind of a store destination.
func (e *Emitter) targetKind(target ast.Expression) types.Kind {
	switch t := target.(type) {
	case *ast.VarRef:
		if sym, ok := e.table.Lookup(e.fn.owner, t.Name); ok {
			return sym.Kind
		}
	case *ast.ArrayRef:
		if sym, ok := e.table.Lookup(e.fn.owner, t.Name); ok {
			return sym.ElemKind
		}
	}
	return types.Double
}

// ============================================================================
// Array lifecycle
// ============================================================================

func (e *Emitter) emitDim(d *ast.ArrayDecl) {
	if len(d.Bounds) == 0 {
		return // typed scalar; storage allocated in the prologue
	}
	sym, ok := e.table.Lookup(e.fn.owner, d.Name)
	if !ok {
		e.line("# DIM of unknown array %s", d.Name)
		return
	}
	b1, b2 := e.emitBounds(d.Bounds)
	desc := e.temp()
	e.line("%s =l call $%s(w %d, w %d, w %s, w %s, w 0)",
		desc, rtArrayNew, sym.ElemKind.Suffix(), len(d.Bounds), b1, b2)
	e.line("storel %s, %s", desc, e.slot(sym))
}

func (e *Emitter) emitRedim(d *ast.ArrayDecl, preserve bool) {
	sym, ok := e.table.Lookup(e.fn.owner, d.Name)
	if !ok || !sym.IsArray {
		e.line("# REDIM of unknown array %s", d.Name)
		return
	}
	old := e.temp()
	e.line("%s =l loadl %s", old, e.slot(sym))
	b1, b2 := e.emitBounds(d.Bounds)
	preserveFlag := 0
	if preserve {
		preserveFlag = 1
	}
	clearFlag := 0
	if !preserve && e.opts.RedimClears {
		clearFlag = 1
	}
	desc := e.temp()
	e.line("%s =l call $%s(l %s, w %d, w %d, w %d, w %s, w %s)",
		desc, rtArrayRedim, old, preserveFlag, clearFlag, len(d.Bounds), b1, b2)
	e.line("storel %s, %s", desc, e.slot(sym))
}

func (e *Emitter) emitBounds(bounds []ast.Expression) (string, string) {
	b1 := e.convert(e.emitExpr(bounds[0]), types.Integer)
	b2 := value{"0", types.Integer}
	if len(bounds) > 1 {
		b2 = e.convert(e.emitExpr(bounds[1]), types.Integer)
	}
	return b1.name, b2.name
}

func (e *Emitter) emitErase(s *ast.EraseStmt) {
	for _, name := range s.Names {
		sym, ok := e.table.Lookup(e.fn.owner, name)
		if !ok || !sym.IsArray {
			e.line("# ERASE of unknown array %s", name)
			continue
		}
		desc := e.temp()
		e.line("%s =l loadl %s", desc, e.slot(sym))
		e.line("call $%s(l %s)", rtArrayErase, desc)
		e.line("storel 0, %s", e.slot(sym))
	}
}

// ============================================================================
// CALL / THROW
// ============================================================================

func (e *Emitter) emitSubCall(s *ast.CallStmt) {
	fn, ok := e.table.LookupFunc(s.Name)
	if !ok {
		e.line("# CALL of unknown SUB %s", s.Name)
		return
	}
	e.emitUserCall(fn, s.Args)
}

// emitThrow records the error code; the terminator routes to the catch
// block or halts.
func (e *Emitter) emitThrow(s *ast.ThrowStmt) {
	code := value{"1", types.Integer}
	if s.Value != nil {
		code = e.convert(e.emitExpr(s.Value), types.Integer)
	}
	e.line("storew %s, $err_code", code.name)
}

// ============================================================================
// FOR support - init triple, step, continuation predicate
// ============================================================================

func forSlots(loop *cfg.LoopInfo) (string, string) {
	return fmt.Sprintf("%%for%d.limit", loop.Init), fmt.Sprintf("%%for%d.step", loop.Init)
}

// emitForInit allocates the limit and step slots and evaluates the three
// expressions exactly once, storing the start value into the loop
// variable's own slot. That slot is allocated in the prologue, not here.
// No branch is emitted; the header block's terminator does that.
func (e *Emitter) emitForInit(loop *cfg.LoopInfo) {
	s := loop.Stmt.(*ast.ForStmt)
	sym, ok := e.table.Lookup(e.fn.owner, s.Var)
	if !ok {
		e.line("# FOR variable %s is undeclared", s.Var)
		return
	}
	k := sym.Kind
	limitSlot, stepSlot := forSlots(loop)
	e.line("%s =l %s %d", limitSlot, k.Alloc(), k.Size())
	e.line("%s =l %s %d", stepSlot, k.Alloc(), k.Size())

	start := e.convert(e.emitExpr(s.Start), k)
	e.line("%s %s, %s", k.StoreOp(), start.name, e.slot(sym))
	limit := e.convert(e.emitExpr(s.Limit), k)
	e.line("%s %s, %s", k.StoreOp(), limit.name, limitSlot)
	step := value{"1", types.Integer}
	if s.Step != nil {
		step = e.emitExpr(s.Step)
	}
	step = e.convert(step, k)
	e.line("%s %s, %s", k.StoreOp(), step.name, stepSlot)
}

// emitForStep adds the step to the loop variable; it runs in the
// increment block, never in the body.
func (e *Emitter) emitForStep(loop *cfg.LoopInfo) {
	s := loop.Stmt.(*ast.ForStmt)
	sym, ok := e.table.Lookup(e.fn.owner, s.Var)
	if !ok {
		return
	}
	k := sym.Kind
	_, stepSlot := forSlots(loop)
	cur := e.temp()
	e.line("%s =%s %s %s", cur, k.QBE(), k.LoadOp(), e.slot(sym))
	step := e.temp()
	e.line("%s =%s %s %s", step, k.QBE(), k.LoadOp(), stepSlot)
	next := e.temp()
	e.line("%s =%s add %s, %s", next, k.QBE(), cur, step)
	e.line("%s %s, %s", k.StoreOp(), next, e.slot(sym))
}

// emitForPredicate reloads limit and step and computes the continuation
// predicate (step >= 0 and var <= limit) or (step < 0 and var >= limit).
func (e *Emitter) emitForPredicate(loop *cfg.LoopInfo) string {
	s := loop.Stmt.(*ast.ForStmt)
	sym, ok := e.table.Lookup(e.fn.owner, s.Var)
	if !ok {
		e.line("# FOR variable %s is undeclared", s.Var)
		return "0"
	}
	k := sym.Kind
	limitSlot, stepSlot := forSlots(loop)

	cur := e.temp()
	e.line("%s =%s %s %s", cur, k.QBE(), k.LoadOp(), e.slot(sym))
	limit := e.temp()
	e.line("%s =%s %s %s", limit, k.QBE(), k.LoadOp(), limitSlot)
	step := e.temp()
	e.line("%s =%s %s %s", step, k.QBE(), k.LoadOp(), stepSlot)

	up := e.temp()
	e.line("%s =w %s %s, %s", up, cmpOp(">=", k), step, zeroOf(k))
	below := e.temp()
	e.line("%s =w %s %s, %s", below, cmpOp("<=", k), cur, limit)
	ascending := e.temp()
	e.line("%s =w and %s, %s", ascending, up, below)

	down := e.temp()
	e.line("%s =w %s %s, %s", down, cmpOp("<", k), step, zeroOf(k))
	above := e.temp()
	e.line("%s =w %s %s, %s", above, cmpOp(">=", k), cur, limit)
	descending := e.temp()
	e.line("%s =w and %s, %s", descending, down, above)

	cont := e.temp()
	e.line("%s =w or %s, %s", cont, ascending, descending)
	return cont
}
