package qbe

import (
	"fmt"
	"strconv"
	"strings"

	"fbcqbe/compiler"
	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/cfg"
	"fbcqbe/compiler/names"
	"fbcqbe/compiler/sem"
	"fbcqbe/compiler/types"
)

// ============================================================================
// QBE IR Emitter
// ============================================================================
//
// The emitter walks a fully built CFG in ascending block id and produces
// the textual IR for one callable. The CFG is ground truth: statements are
// emitted from the block lists, terminators are derived from the typed
// out-edges, and source order is never consulted. Ascending-id traversal
// emits every block exactly once, including unreachable ones - GOSUB and
// ON dispatch reach them by id at runtime.

// Options carries the emitter configuration knobs.
type Options struct {
	// RedimClears selects whether REDIM without PRESERVE zero-fills the
	// new storage.
	RedimClears bool
}

type Emitter struct {
	prog  *cfg.ProgramCFG
	table *sem.SymbolTable
	opts  Options

	// program-wide string literal pool, in first-use order
	pool    []string
	poolIdx map[string]int

	rep *compiler.Reporter

	fn *fnState // per-callable state
}

type fnState struct {
	name  string
	owner string // symbol-table owner: "" for main
	graph *cfg.ControlFlowGraph
	sym   *sem.FuncSymbol // nil for main

	buf    strings.Builder
	tempN  int
	labelN int

	// reverse role maps from LoopInfo
	loopInit map[int]*cfg.LoopInfo
	loopCond map[int]*cfg.LoopInfo
	loopInc  map[int]*cfg.LoopInfo
}

func NewEmitter(prog *cfg.ProgramCFG, source string, opts Options) *Emitter {
	return &Emitter{
		prog:    prog,
		table:   prog.Analysis.Table,
		opts:    opts,
		poolIdx: make(map[string]int),
		rep:     compiler.NewReporter(source, compiler.PipelineEmission),
	}
}

// EmitProgram emits the main function, every user SUB/FUNCTION and the
// data section.
func EmitProgram(prog *cfg.ProgramCFG, source string, opts Options) (string, compiler.Diagnostics) {
	e := NewEmitter(prog, source, opts)
	var out strings.Builder

	out.WriteString(e.Emit(prog.Main, "main"))
	for _, name := range prog.FunctionNames() {
		out.WriteString("\n")
		out.WriteString(e.Emit(prog.Functions[name], name))
	}
	out.WriteString("\n")
	out.WriteString(e.emitData())

	return out.String(), e.rep.List()
}

// Emit produces the IR fragment for a single callable.
func (e *Emitter) Emit(g *cfg.ControlFlowGraph, name string) string {
	fn := &fnState{
		name:     name,
		graph:    g,
		loopInit: make(map[int]*cfg.LoopInfo),
		loopCond: make(map[int]*cfg.LoopInfo),
		loopInc:  make(map[int]*cfg.LoopInfo),
	}
	if name != "main" {
		fn.owner = name
		fn.sym = e.table.Funcs[name]
	}
	for _, loop := range g.Loops {
		if loop.Init != cfg.NoTarget {
			fn.loopInit[loop.Init] = loop
		}
		if loop.Cond != cfg.NoTarget {
			fn.loopCond[loop.Cond] = loop
		}
		if loop.Increment != cfg.NoTarget {
			fn.loopInc[loop.Increment] = loop
		}
	}
	e.fn = fn

	e.emitFunctionHeader()
	for _, block := range g.Blocks {
		e.emitBlock(block)
	}
	fn.buf.WriteString("}\n")
	return fn.buf.String()
}

func (e *Emitter) warnf(loc compiler.Location, format string, args ...interface{}) {
	e.rep.Warnf(loc, format, args...)
}

// ============================================================================
// Low-level output helpers
// ============================================================================

func (e *Emitter) line(format string, args ...interface{}) {
	e.fn.buf.WriteString("\t")
	e.fn.buf.WriteString(fmt.Sprintf(format, args...))
	e.fn.buf.WriteString("\n")
}

func (e *Emitter) rawLine(format string, args ...interface{}) {
	e.fn.buf.WriteString(fmt.Sprintf(format, args...))
	e.fn.buf.WriteString("\n")
}

func (e *Emitter) temp() string {
	e.fn.tempN++
	return fmt.Sprintf("%%t%d", e.fn.tempN)
}

// label mints a synthetic label for dispatch chains inside one block.
func (e *Emitter) label(stem string) string {
	e.fn.labelN++
	return fmt.Sprintf("@%s.%d", stem, e.fn.labelN)
}

func blockLabel(b *cfg.BasicBlock) string {
	return "@" + names.Block(b.ID, b.Label)
}

// intern places a string literal in the program-wide pool.
func (e *Emitter) intern(s string) string {
	if idx, ok := e.poolIdx[s]; ok {
		return "$" + names.StringConst(idx)
	}
	idx := len(e.pool)
	e.pool = append(e.pool, s)
	e.poolIdx[s] = idx
	return "$" + names.StringConst(idx)
}

// abi returns the QBE type a value of this kind crosses call boundaries
// with: floats widen to d.
func abi(k types.Kind) string {
	if k.IsFloat() {
		return "d"
	}
	return k.QBE()
}

// ============================================================================
// Function header, prologue, epilogue
// ============================================================================

func (e *Emitter) emitFunctionHeader() {
	fn := e.fn
	if fn.sym == nil {
		e.rawLine("export function w $main() {")
		return
	}
	var params []string
	for _, p := range fn.sym.Params {
		params = append(params, fmt.Sprintf("%s %%p_%s", abi(p.Kind), p.Name))
	}
	symbol := "$" + names.Func(fn.sym.Source)
	if fn.sym.IsSub {
		e.rawLine("export function %s(%s) {", symbol, strings.Join(params, ", "))
		return
	}
	e.rawLine("export function %s %s(%s) {", abi(fn.sym.Return), symbol, strings.Join(params, ", "))
}

// slot returns the stack-slot or global operand holding a variable.
func (e *Emitter) slot(sym *sem.VarSymbol) string {
	if sym.Owner == sem.GlobalOwner {
		if sym.IsArray {
			return "$" + names.ArrayDescriptor(sym.Name)
		}
		return "$" + names.Global(sym.Name)
	}
	return "%" + names.Var(sym.Name)
}

// emitPrologue stack-allocates and zero-initializes every scalar local of
// the callable's scope, then spills incoming parameters into their slots.
func (e *Emitter) emitPrologue() {
	fn := e.fn
	locals := e.table.VarsOf(fn.owner)
	for _, sym := range locals {
		slot := e.slot(sym)
		if sym.IsArray {
			// descriptor pointer cell
			e.line("%s =l alloc8 8", slot)
			e.line("storel 0, %s", slot)
			continue
		}
		kind := sym.Kind
		if kind == types.Record {
			size := 8
			if rec, ok := e.table.Records[sym.RecordName]; ok {
				size = rec.Size
			}
			e.line("%s =l alloc8 %d", slot, size)
			continue
		}
		e.line("%s =l %s %d", slot, kind.Alloc(), kind.Size())
		e.line("%s %s, %s", kind.StoreOp(), zeroOf(kind), slot)
	}
	if fn.sym != nil {
		for _, p := range fn.sym.Params {
			value := "%p_" + p.Name
			if p.Kind == types.Single {
				conv := e.temp()
				e.line("%s =s truncd %s", conv, value)
				value = conv
			}
			e.line("%s %s, %s", p.Kind.StoreOp(), value, e.slot(p))
		}
	}
}

func zeroOf(k types.Kind) string {
	switch k {
	case types.Single:
		return "s_0"
	case types.Double:
		return "d_0"
	default:
		return "0"
	}
}

// emitEpilogue releases local string variables and returns.
func (e *Emitter) emitEpilogue() {
	fn := e.fn
	for _, sym := range e.table.VarsOf(fn.owner) {
		if sym.Kind == types.String && !sym.IsArray {
			val := e.temp()
			e.line("%s =l loadl %s", val, e.slot(sym))
			e.line("call $%s(l %s)", rtStringRelease, val)
		}
	}
	if fn.sym == nil {
		e.line("ret 0")
		return
	}
	if fn.sym.IsSub {
		e.line("ret")
		return
	}
	// the function name variable is the return slot
	ret, _ := e.table.Lookup(fn.owner, fn.sym.Source)
	val := e.temp()
	e.line("%s =%s %s %s", val, ret.Kind.QBE(), ret.Kind.LoadOp(), e.slot(ret))
	if ret.Kind == types.Single {
		wide := e.temp()
		e.line("%s =d exts %s", wide, val)
		val = wide
	}
	e.line("ret %s", val)
}

// ============================================================================
// Per-block emission
// ============================================================================

func (e *Emitter) emitBlock(b *cfg.BasicBlock) {
	fn := e.fn
	e.rawLine("%s", blockLabel(b))

	if b.ID == fn.graph.Entry {
		e.emitPrologue()
	}
	if loop, ok := fn.loopInit[b.ID]; ok {
		e.emitForInit(loop)
	}

	for _, stmt := range b.Statements {
		e.emitStatement(stmt)
	}

	if loop, ok := fn.loopInc[b.ID]; ok {
		e.emitForStep(loop)
	}

	e.emitTerminator(b)
}

// ============================================================================
// Terminators from edge types
// ============================================================================

func (e *Emitter) emitTerminator(b *cfg.BasicBlock) {
	g := e.fn.graph
	out := g.OutEdges(b.ID)
	last := b.Last()

	// END emitted its own ret
	if _, isEnd := last.(*ast.EndStmt); isEnd {
		return
	}
	if _, isExit := last.(*ast.ExitStmt); isExit && len(out) == 0 {
		// EXIT FUNCTION / EXIT SUB
		e.emitEpilogue()
		return
	}
	if _, isThrow := last.(*ast.ThrowStmt); isThrow {
		for _, edge := range out {
			if edge.Type == cfg.EdgeException {
				e.line("jmp %s", blockLabel(g.Block(edge.To)))
				return
			}
		}
		code := e.temp()
		e.line("%s =w loadw $err_code", code)
		e.line("call $%s(w %s)", rtAbort, code)
		e.line("hlt")
		return
	}

	var callEdges []cfg.Edge
	var seqEdges []cfg.Edge
	hasCond := false
	for _, edge := range out {
		switch edge.Type {
		case cfg.EdgeReturn:
			e.emitReturnDispatch()
			return
		case cfg.EdgeCall:
			callEdges = append(callEdges, edge)
		case cfg.EdgeCondTrue, cfg.EdgeCondFalse:
			hasCond = true
		case cfg.EdgeFallthrough, cfg.EdgeJump:
			seqEdges = append(seqEdges, edge)
		}
	}

	if len(callEdges) > 0 {
		e.emitGosubTerminator(b, callEdges, seqEdges)
		return
	}

	if hasCond {
		e.emitConditional(b)
		return
	}

	switch s := last.(type) {
	case *ast.SelectStmt:
		e.emitSelectDispatch(b, s)
		return
	case *ast.OnGotoStmt:
		e.emitOnGotoDispatch(b, s)
		return
	}

	// labeled edges with no dispatch statement would be a builder bug
	if len(seqEdges) > 0 {
		e.line("jmp %s", blockLabel(g.Block(seqEdges[0].To)))
		return
	}

	e.emitEpilogue()
}

// emitConditional evaluates the block's predicate and branches on it.
func (e *Emitter) emitConditional(b *cfg.BasicBlock) {
	g := e.fn.graph
	trueTarget, falseTarget := -1, -1
	for _, edge := range g.OutEdges(b.ID) {
		switch edge.Type {
		case cfg.EdgeCondTrue:
			trueTarget = edge.To
		case cfg.EdgeCondFalse:
			falseTarget = edge.To
		}
	}
	cond := e.emitBlockPredicate(b)
	e.line("jnz %s, %s, %s", cond,
		blockLabel(g.Block(trueTarget)), blockLabel(g.Block(falseTarget)))
}

// emitBlockPredicate produces the w truth value the block branches on.
func (e *Emitter) emitBlockPredicate(b *cfg.BasicBlock) string {
	fn := e.fn
	if loop, ok := fn.graph.Loops[b.ID]; ok && loop.Header == b.ID {
		switch loop.Kind {
		case cfg.LoopFor:
			return e.emitForPredicate(loop)
		case cfg.LoopWhile:
			return e.truth(e.emitExpr(loop.Stmt.(*ast.WhileStmt).Cond))
		case cfg.LoopDoPre:
			return e.truth(e.emitExpr(loop.Stmt.(*ast.DoStmt).Pre.Expr))
		}
	}
	if loop, ok := fn.loopCond[b.ID]; ok {
		switch s := loop.Stmt.(type) {
		case *ast.RepeatStmt:
			return e.truth(e.emitExpr(s.Cond))
		case *ast.DoStmt:
			return e.truth(e.emitExpr(s.Post.Expr))
		}
	}
	if s, ok := b.Last().(*ast.IfStmt); ok {
		return e.truth(e.emitExpr(s.Cond))
	}
	e.line("# malformed condition block %d", b.ID)
	return "0"
}

// truth narrows a value to a w suitable for jnz.
func (e *Emitter) truth(val value) string {
	switch val.kind {
	case types.Integer:
		return val.name
	case types.Long:
		t := e.temp()
		e.line("%s =w cnel %s, 0", t, val.name)
		return t
	case types.Single:
		t := e.temp()
		e.line("%s =w cnes %s, s_0", t, val.name)
		return t
	case types.Double:
		t := e.temp()
		e.line("%s =w cned %s, d_0", t, val.name)
		return t
	default:
		e.line("# string value used as condition")
		return "0"
	}
}

// ============================================================================
// GOSUB machinery
// ============================================================================

// emitGosubPush pushes a continuation block id onto the runtime stack.
func (e *Emitter) emitGosubPush(contID int) {
	sp := e.temp()
	e.line("%s =w loadw $gosub_return_sp", sp)
	off := e.temp()
	e.line("%s =l extsw %s", off, sp)
	scaled := e.temp()
	e.line("%s =l mul %s, 4", scaled, off)
	addr := e.temp()
	e.line("%s =l add $gosub_return_stack, %s", addr, scaled)
	e.line("storew %d, %s", contID, addr)
	bumped := e.temp()
	e.line("%s =w add %s, 1", bumped, sp)
	e.line("storew %s, $gosub_return_sp", bumped)
}

// emitGosubTerminator handles both the single GOSUB site and the
// ON ... GOSUB multiway form. The paired sequential edge names the
// continuation block whose id is pushed for RETURN dispatch.
func (e *Emitter) emitGosubTerminator(b *cfg.BasicBlock, callEdges, seqEdges []cfg.Edge) {
	g := e.fn.graph
	if len(seqEdges) != 1 {
		e.line("# malformed GOSUB block %d", b.ID)
		e.line("hlt")
		return
	}
	cont := seqEdges[0].To

	if on, ok := b.Last().(*ast.OnGotoStmt); ok && on.IsGosub {
		// selector dispatch: push only when a target is taken
		sel := e.selectorValue(on.Selector)
		ordered := make([]cfg.Edge, len(callEdges))
		for _, edge := range callEdges {
			n, _ := strconv.Atoi(edge.Label)
			ordered[n-1] = edge
		}
		for i, edge := range ordered {
			hit := e.label(fmt.Sprintf("b%d.call", b.ID))
			miss := e.label(fmt.Sprintf("b%d.on", b.ID))
			c := e.temp()
			e.line("%s =w ceqw %s, %d", c, sel, i+1)
			e.line("jnz %s, %s, %s", c, hit, miss)
			e.rawLine("%s", hit)
			e.emitGosubPush(cont)
			e.line("jmp %s", blockLabel(g.Block(edge.To)))
			e.rawLine("%s", miss)
		}
		e.line("jmp %s", blockLabel(g.Block(cont)))
		return
	}

	e.emitGosubPush(cont)
	e.line("jmp %s", blockLabel(g.Block(callEdges[0].To)))
}

// emitReturnDispatch pops the continuation id and dispatches over the
// registered return blocks only - a sparse comparison chain, not a scan
// of the whole graph.
func (e *Emitter) emitReturnDispatch() {
	g := e.fn.graph
	sp := e.temp()
	e.line("%s =w loadw $gosub_return_sp", sp)
	under := e.label("ret.under")
	ok := e.label("ret.ok")
	c := e.temp()
	e.line("%s =w csgtw %s, 0", c, sp)
	e.line("jnz %s, %s, %s", c, ok, under)
	e.rawLine("%s", under)
	e.line("call $%s()", rtReturnUnderflow)
	e.line("hlt")
	e.rawLine("%s", ok)
	dec := e.temp()
	e.line("%s =w sub %s, 1", dec, sp)
	e.line("storew %s, $gosub_return_sp", dec)
	off := e.temp()
	e.line("%s =l extsw %s", off, dec)
	scaled := e.temp()
	e.line("%s =l mul %s, 4", scaled, off)
	addr := e.temp()
	e.line("%s =l add $gosub_return_stack, %s", addr, scaled)
	id := e.temp()
	e.line("%s =w loadw %s", id, addr)

	targets := g.ReturnDispatch()
	for _, target := range targets {
		next := e.label("ret.try")
		hit := e.temp()
		e.line("%s =w ceqw %s, %d", hit, id, target)
		e.line("jnz %s, %s, %s", hit, blockLabel(g.Block(target)), next)
		e.rawLine("%s", next)
	}
	e.line("call $%s()", rtReturnUnderflow)
	e.line("hlt")
}

// ============================================================================
// SELECT / ON dispatch
// ============================================================================

// selectorValue evaluates a dispatch selector into a w temp.
func (e *Emitter) selectorValue(expr ast.Expression) string {
	val := e.emitExpr(expr)
	conv := e.convert(val, types.Integer)
	return conv.name
}

// emitSelectDispatch translates the case arms into a comparison chain.
// The edge labels carry the arm index; "default" names the otherwise
// block.
func (e *Emitter) emitSelectDispatch(b *cfg.BasicBlock, s *ast.SelectStmt) {
	g := e.fn.graph
	targets := make(map[string]int)
	for _, edge := range g.OutEdges(b.ID) {
		targets[edge.Label] = edge.To
	}

	sel := e.emitExpr(s.Selector)
	for i, arm := range s.Cases {
		target, ok := targets[strconv.Itoa(i)]
		if !ok {
			continue
		}
		armHit := blockLabel(g.Block(target))
		for _, pred := range arm.Preds {
			miss := e.label(fmt.Sprintf("b%d.case", b.ID))
			match := e.emitCasePred(sel, pred)
			e.line("jnz %s, %s, %s", match, armHit, miss)
			e.rawLine("%s", miss)
		}
	}
	e.line("jmp %s", blockLabel(g.Block(targets["default"])))
}

// emitCasePred produces the w truth of one CASE predicate against the
// evaluated selector.
func (e *Emitter) emitCasePred(sel value, pred *ast.CasePred) string {
	switch pred.Kind {
	case ast.CaseRange:
		lo := e.emitCompare("<=", e.emitExpr(pred.Lo), sel)
		hi := e.emitCompare("<=", sel, e.emitExpr(pred.Hi))
		both := e.temp()
		e.line("%s =w and %s, %s", both, lo, hi)
		return both
	case ast.CaseRel:
		return e.emitCompare(pred.Op, sel, e.emitExpr(pred.Lo))
	default:
		return e.emitCompare("=", sel, e.emitExpr(pred.Lo))
	}
}

// emitOnGotoDispatch lowers ON expr GOTO: a chain of equality tests over
// the labeled JUMP edges; selector 0 or out of range falls through.
func (e *Emitter) emitOnGotoDispatch(b *cfg.BasicBlock, s *ast.OnGotoStmt) {
	g := e.fn.graph
	var fallthroughTarget int
	ordered := make([]int, len(s.Targets))
	for _, edge := range g.OutEdges(b.ID) {
		switch {
		case edge.Type == cfg.EdgeJump && edge.Label != "":
			n, _ := strconv.Atoi(edge.Label)
			ordered[n-1] = edge.To
		case edge.Type == cfg.EdgeFallthrough:
			fallthroughTarget = edge.To
		}
	}

	sel := e.selectorValue(s.Selector)
	for i, target := range ordered {
		miss := e.label(fmt.Sprintf("b%d.on", b.ID))
		c := e.temp()
		e.line("%s =w ceqw %s, %d", c, sel, i+1)
		e.line("jnz %s, %s, %s", c, blockLabel(g.Block(target)), miss)
		e.rawLine("%s", miss)
	}
	e.line("jmp %s", blockLabel(g.Block(fallthroughTarget)))
}
