package cfg

import (
	"fmt"
	"strconv"

	"fbcqbe/compiler"
	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/names"
	"fbcqbe/compiler/sem"
)

// ============================================================================
// CFG Builder - single-pass recursive construction
// ============================================================================
//
// Every construct handler obeys one contract: control flows in through the
// builder's current block; the handler creates the blocks its construct
// needs, wires all edges (recursing into nested statements), and leaves the
// construct's normal exit as the new current block. Exit blocks of FOR
// loops are created only when the loop closes, never at the FOR itself, so
// that a loop's exit block receives a higher id than every block of its
// body and its increment block.
//
// Jumps to lines or labels not seen yet are recorded as deferred edges and
// resolved in a cleanup pass once the whole tree has been processed.

// loopCtx tracks the innermost open loop for EXIT/CONTINUE routing.
// Targets still pending (FOR exits, post-test condition blocks) hold
// NoTarget and collect their sources until the loop closes.
type loopCtx struct {
	kind             ast.ExitKind
	continueTarget   int
	exitTarget       int
	pendingExits     []int
	pendingContinues []int
}

type selectCtx struct {
	merge int
}

type tryCtx struct {
	catch int
}

type deferredEdge struct {
	from      int
	line      int
	label     string
	typ       EdgeType
	edgeLabel string
	loc       compiler.Location
}

type Builder struct {
	table *sem.SymbolTable
	owner string // enclosing SUB/FUNCTION, "" for main

	graph   *ControlFlowGraph
	current *BasicBlock

	jumpLines  map[int]bool
	jumpLabels map[string]bool

	// numbered lines carrying only REM/DATA, waiting for the next block
	pendingLines []int

	deferred []deferredEdge

	loops   []*loopCtx
	selects []*selectCtx
	trys    []*tryCtx

	rep *compiler.Reporter
}

func NewBuilder(source, owner string, table *sem.SymbolTable) *Builder {
	return &Builder{
		table:      table,
		owner:      owner,
		jumpLines:  make(map[int]bool),
		jumpLabels: make(map[string]bool),
		rep:        compiler.NewReporter(source, compiler.PipelineControlFlowGraph),
	}
}

// Build constructs the CFG for one callable body.
func Build(name, source, owner string, table *sem.SymbolTable, stmts []ast.Statement) (*ControlFlowGraph, compiler.Diagnostics) {
	b := NewBuilder(source, owner, table)
	return b.build(name, stmts)
}

// BuildProgram separates SUB/FUNCTION bodies from the main statements and
// builds one CFG per callable plus the main CFG.
func BuildProgram(prog *ast.Program, analysis *sem.Analysis) (*ProgramCFG, compiler.Diagnostics) {
	var diags compiler.Diagnostics
	var mainStmts []ast.Statement
	for _, stmt := range prog.Statements {
		switch stmt.(type) {
		case *ast.FunctionDecl, *ast.SubDecl, *ast.TypeDecl:
			// built from the symbol table below
		default:
			mainStmts = append(mainStmts, stmt)
		}
	}

	pcfg := &ProgramCFG{
		Functions: make(map[string]*ControlFlowGraph),
		Analysis:  analysis,
	}

	mainCFG, mainDiags := Build("main", prog.Source, "", analysis.Table, mainStmts)
	pcfg.Main = mainCFG
	diags = append(diags, mainDiags...)

	for _, name := range analysis.Table.FuncNames() {
		fn := analysis.Table.Funcs[name]
		fnCFG, fnDiags := Build(name, prog.Source, name, analysis.Table, fn.Body)
		pcfg.Functions[name] = fnCFG
		diags = append(diags, fnDiags...)
	}
	return pcfg, diags
}

func (b *Builder) build(name string, stmts []ast.Statement) (*ControlFlowGraph, compiler.Diagnostics) {
	b.graph = NewControlFlowGraph(name)
	entry := b.graph.NewBlock("entry")
	b.graph.Entry = entry.ID
	b.current = entry

	b.scanJumpTargets(stmts)
	b.buildRange(stmts)
	b.flushPendingLines()
	b.resolveDeferred()
	b.validateReturns()
	b.graph.Tail = b.current.ID
	b.graph.Unreachable = computeUnreachable(b.graph)

	return b.graph, b.rep.List()
}

func (b *Builder) errorf(loc compiler.Location, format string, args ...interface{}) {
	b.rep.Errorf(loc, format, args...)
}

// stmtErrorf attributes a finding to the statement's BASIC line.
func (b *Builder) stmtErrorf(stmt ast.Statement, format string, args ...interface{}) {
	b.rep.ErrorAtLine(stmt.Line(), stmt.Location(), format, args...)
}

// ============================================================================
// Phase 0 - jump target scan
// ============================================================================

// scanJumpTargets walks the whole tree once, collecting every line number
// and label that any GOTO/GOSUB/ON names. Numbered statements split into
// fresh blocks only when some jump can actually target them.
func (b *Builder) scanJumpTargets(stmts []ast.Statement) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.GotoStmt:
			b.noteTarget(s.TargetLine, s.TargetLabel)
		case *ast.GosubStmt:
			b.noteTarget(s.TargetLine, s.TargetLabel)
		case *ast.OnGotoStmt:
			for _, line := range s.Targets {
				b.noteTarget(line, "")
			}
		case *ast.IfStmt:
			b.scanJumpTargets(s.Then)
			b.scanJumpTargets(s.Else)
		case *ast.WhileStmt:
			b.scanJumpTargets(s.Body)
		case *ast.ForStmt:
			b.scanJumpTargets(s.Body)
		case *ast.RepeatStmt:
			b.scanJumpTargets(s.Body)
		case *ast.DoStmt:
			b.scanJumpTargets(s.Body)
		case *ast.SelectStmt:
			for _, arm := range s.Cases {
				b.scanJumpTargets(arm.Body)
			}
			b.scanJumpTargets(s.Default)
		case *ast.TryStmt:
			b.scanJumpTargets(s.Body)
			b.scanJumpTargets(s.Catch)
			b.scanJumpTargets(s.Finally)
		}
	}
}

func (b *Builder) noteTarget(line int, label string) {
	if line != 0 {
		b.jumpLines[line] = true
	}
	if label != "" {
		b.jumpLabels[names.Canon(label)] = true
	}
}

// ============================================================================
// Phase 1 - recursive composition
// ============================================================================

func (b *Builder) buildRange(stmts []ast.Statement) {
	for _, stmt := range stmts {
		b.buildStatement(stmt)
	}
}

func (b *Builder) buildStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.RemStmt, *ast.DataStmt:
		// REM never creates a block; a numbered comment-only line still
		// registers as a jump target pointing at the next real block.
		// DATA is compiled into the data pool, not into its block.
		if line := stmt.Line(); line != 0 {
			if _, done := b.graph.LineToBlock[line]; !done {
				b.pendingLines = append(b.pendingLines, line)
			}
		}
		return
	case *ast.LabelStmt:
		b.startLabelBlock(s)
		return
	case *ast.FunctionDecl, *ast.SubDecl, *ast.TypeDecl:
		// separated out by BuildProgram; ignore if nested
		return
	default:
	}

	b.startLineBlock(stmt)

	switch s := stmt.(type) {
	case *ast.LetStmt, *ast.PrintStmt, *ast.InputStmt, *ast.ReadStmt,
		*ast.RestoreStmt, *ast.DimStmt, *ast.RedimStmt, *ast.EraseStmt,
		*ast.LocalStmt, *ast.SharedStmt, *ast.GlobalStmt, *ast.CallStmt:
		b.current.Add(stmt)
	case *ast.IfStmt:
		b.processIf(s)
	case *ast.WhileStmt:
		b.processWhile(s)
	case *ast.ForStmt:
		b.processFor(s)
	case *ast.RepeatStmt:
		b.processRepeat(s)
	case *ast.DoStmt:
		b.processDo(s)
	case *ast.SelectStmt:
		b.processSelect(s)
	case *ast.TryStmt:
		b.processTry(s)
	case *ast.GotoStmt:
		b.processGoto(s)
	case *ast.GosubStmt:
		b.processGosub(s)
	case *ast.ReturnStmt:
		b.processReturn(s)
	case *ast.OnGotoStmt:
		b.processOn(s)
	case *ast.ExitStmt:
		b.processExit(s)
	case *ast.ContinueStmt:
		b.processContinue(s)
	case *ast.EndStmt:
		b.processEnd(s)
	case *ast.ThrowStmt:
		b.processThrow(s)
	default:
		b.stmtErrorf(stmt, "malformed AST: unknown statement %T", stmt)
	}
}

// startLineBlock begins a fresh block when the statement's line number is
// a known jump target, then registers the line. A numbered line fused
// into a preceding block would otherwise swallow incoming jumps. Pending
// comment-only target lines force the same split: they must resolve to
// the block this statement starts, not to whatever block came before.
func (b *Builder) startLineBlock(stmt ast.Statement) {
	line := stmt.Line()
	_, registered := b.graph.LineToBlock[line]
	split := line != 0 && b.jumpLines[line] && !registered
	for _, pending := range b.pendingLines {
		if b.jumpLines[pending] {
			split = true
		}
	}
	if split {
		if len(b.current.Statements) > 0 || b.current.IsTerminated {
			nb := b.graph.NewBlock(fmt.Sprintf("line.%d", line))
			b.flowTo(nb, EdgeFallthrough)
			b.current = nb
		} else if b.current.Label == "" || b.current.Label == "entry" {
			b.current.Label = fmt.Sprintf("line.%d", line)
		}
	}
	if line != 0 && !registered {
		b.graph.LineToBlock[line] = b.current.ID
	}
	b.drainPendingLines()
}

func (b *Builder) startLabelBlock(s *ast.LabelStmt) {
	canon := names.Canon(s.Name)
	if b.jumpLabels[canon] {
		if len(b.current.Statements) > 0 || b.current.IsTerminated {
			nb := b.graph.NewBlock("label." + canon)
			b.flowTo(nb, EdgeFallthrough)
			b.current = nb
		}
	}
	if _, exists := b.graph.LabelToBlock[canon]; exists {
		b.stmtErrorf(s, "duplicate label %s", s.Name)
		return
	}
	b.graph.LabelToBlock[canon] = b.current.ID
	if line := s.Line(); line != 0 {
		if _, done := b.graph.LineToBlock[line]; !done {
			b.graph.LineToBlock[line] = b.current.ID
		}
	}
	b.drainPendingLines()
}

// drainPendingLines points numbered REM-only lines at the current block.
func (b *Builder) drainPendingLines() {
	for _, line := range b.pendingLines {
		if _, done := b.graph.LineToBlock[line]; !done {
			b.graph.LineToBlock[line] = b.current.ID
		}
	}
	b.pendingLines = nil
}

func (b *Builder) flushPendingLines() {
	b.drainPendingLines()
}

// flowTo wires a sequential edge from the current block unless it already
// ended in a terminator.
func (b *Builder) flowTo(to *BasicBlock, typ EdgeType) {
	if !b.current.IsTerminated {
		b.graph.AddEdge(b.current.ID, to.ID, typ, "")
	}
}

// startUnreachable begins a fresh block with no incoming edge, so that
// statements physically after a terminator are still represented.
func (b *Builder) startUnreachable(label string) {
	nb := b.graph.NewBlock(label)
	b.current = nb
}

// ============================================================================
// IF / THEN / ELSE / END IF
// ============================================================================
//
//	     [cond]
//	     /    \
//	[then]    [else]   (else block exists even without source ELSE)
//	     \    /
//	    [merge]
func (b *Builder) processIf(s *ast.IfStmt) {
	cond := b.current
	cond.Add(s)

	thenEntry := b.graph.NewBlock("if.then")
	elseEntry := b.graph.NewBlock("if.else")
	merge := b.graph.NewBlock("if.merge")

	b.graph.AddEdge(cond.ID, thenEntry.ID, EdgeCondTrue, "")
	b.graph.AddEdge(cond.ID, elseEntry.ID, EdgeCondFalse, "")

	b.current = thenEntry
	b.buildRange(s.Then)
	b.flowTo(merge, EdgeFallthrough)

	b.current = elseEntry
	b.buildRange(s.Else)
	b.flowTo(merge, EdgeFallthrough)

	b.current = merge
}

// ============================================================================
// WHILE / WEND
// ============================================================================
//
//	+--[header]--+
//	|    |       |
//	|  [body]  [exit]
//	+----+
func (b *Builder) processWhile(s *ast.WhileStmt) {
	header := b.graph.NewBlock("while.header")
	header.IsLoopHeader = true
	header.Add(s)
	b.flowTo(header, EdgeFallthrough)

	body := b.graph.NewBlock("while.body")
	exit := b.graph.NewBlock("while.exit")
	exit.IsLoopExit = true
	b.graph.AddEdge(header.ID, body.ID, EdgeCondTrue, "")
	b.graph.AddEdge(header.ID, exit.ID, EdgeCondFalse, "")

	b.graph.Loops[header.ID] = &LoopInfo{
		Kind: LoopWhile, Init: NoTarget, Header: header.ID,
		Cond: NoTarget, Increment: NoTarget, Exit: exit.ID, Stmt: s,
	}

	ctx := &loopCtx{kind: ast.ExitWhile, continueTarget: header.ID, exitTarget: exit.ID}
	b.loops = append(b.loops, ctx)
	b.current = body
	b.buildRange(s.Body)
	if !b.current.IsTerminated {
		b.graph.AddEdge(b.current.ID, header.ID, EdgeJump, "") // back-edge
	}
	b.loops = b.loops[:len(b.loops)-1]

	b.current = exit
}

// ============================================================================
// FOR / NEXT
// ============================================================================
//
// The exit block is created only at NEXT. Creating it at FOR would give it
// a lower id than the body's blocks and has historically produced loops
// that jump backwards over their own bodies.
//
//	[init]
//	   |
//	+--[header]---(deferred false edge)--+
//	|    |                               |
//	|  [body]                            |
//	|    |                               |
//	+--[increment]                    [exit]
func (b *Builder) processFor(s *ast.ForStmt) {
	init := b.graph.NewBlock("for.init")
	init.Add(s)
	b.flowTo(init, EdgeFallthrough)

	header := b.graph.NewBlock("for.header")
	header.IsLoopHeader = true
	b.graph.AddEdge(init.ID, header.ID, EdgeFallthrough, "")

	body := b.graph.NewBlock("for.body")
	b.graph.AddEdge(header.ID, body.ID, EdgeCondTrue, "")
	// the CONDITIONAL_FALSE edge waits for the exit block

	info := &LoopInfo{
		Kind: LoopFor, Init: init.ID, Header: header.ID,
		Cond: NoTarget, Increment: NoTarget, Exit: NoTarget, Stmt: s,
	}
	b.graph.Loops[header.ID] = info

	ctx := &loopCtx{kind: ast.ExitFor, continueTarget: NoTarget, exitTarget: NoTarget}
	b.loops = append(b.loops, ctx)
	b.current = body
	b.buildRange(s.Body)

	// closing NEXT: the step addition lives in its own block
	increment := b.graph.NewBlock("for.increment")
	info.Increment = increment.ID
	b.flowTo(increment, EdgeFallthrough)
	b.graph.AddEdge(increment.ID, header.ID, EdgeJump, "") // back-edge

	exit := b.graph.NewBlock("for.exit")
	exit.IsLoopExit = true
	info.Exit = exit.ID
	b.graph.AddEdge(header.ID, exit.ID, EdgeCondFalse, "")

	for _, id := range ctx.pendingExits {
		b.graph.AddEdge(id, exit.ID, EdgeJump, "")
	}
	for _, id := range ctx.pendingContinues {
		b.graph.AddEdge(id, increment.ID, EdgeJump, "")
	}
	b.loops = b.loops[:len(b.loops)-1]

	b.current = exit
}

// ============================================================================
// REPEAT / UNTIL and DO / LOOP
// ============================================================================

// processRepeat builds the post-test REPEAT ... UNTIL cond loop: the body
// always runs once, the condition block loops back while the predicate is
// false.
func (b *Builder) processRepeat(s *ast.RepeatStmt) {
	bodyEntry := b.graph.NewBlock("repeat.body")
	bodyEntry.IsLoopHeader = true
	b.flowTo(bodyEntry, EdgeFallthrough)

	info := &LoopInfo{
		Kind: LoopRepeat, Init: NoTarget, Header: bodyEntry.ID,
		Cond: NoTarget, Increment: NoTarget, Exit: NoTarget, Stmt: s,
	}
	b.graph.Loops[bodyEntry.ID] = info

	ctx := &loopCtx{kind: ast.ExitDo, continueTarget: NoTarget, exitTarget: NoTarget}
	b.loops = append(b.loops, ctx)
	b.current = bodyEntry
	b.buildRange(s.Body)

	cond := b.graph.NewBlock("repeat.until")
	cond.Add(s)
	info.Cond = cond.ID
	b.flowTo(cond, EdgeFallthrough)

	exit := b.graph.NewBlock("repeat.exit")
	exit.IsLoopExit = true
	info.Exit = exit.ID
	// UNTIL: loop while the predicate is false
	b.graph.AddEdge(cond.ID, bodyEntry.ID, EdgeCondFalse, "")
	b.graph.AddEdge(cond.ID, exit.ID, EdgeCondTrue, "")

	for _, id := range ctx.pendingExits {
		b.graph.AddEdge(id, exit.ID, EdgeJump, "")
	}
	for _, id := range ctx.pendingContinues {
		b.graph.AddEdge(id, cond.ID, EdgeJump, "")
	}
	b.loops = b.loops[:len(b.loops)-1]

	b.current = exit
}

// processDo distinguishes the four conditioned DO shapes plus the bare
// DO ... LOOP. Pre-test forms mirror WHILE; post-test forms mirror REPEAT
// with the branch sense following WHILE/UNTIL.
func (b *Builder) processDo(s *ast.DoStmt) {
	if s.Pre != nil {
		b.processDoPre(s)
		return
	}
	b.processDoPost(s)
}

func (b *Builder) processDoPre(s *ast.DoStmt) {
	header := b.graph.NewBlock("do.header")
	header.IsLoopHeader = true
	header.Add(s)
	b.flowTo(header, EdgeFallthrough)

	body := b.graph.NewBlock("do.body")
	exit := b.graph.NewBlock("do.exit")
	exit.IsLoopExit = true
	if s.Pre.Until {
		b.graph.AddEdge(header.ID, exit.ID, EdgeCondTrue, "")
		b.graph.AddEdge(header.ID, body.ID, EdgeCondFalse, "")
	} else {
		b.graph.AddEdge(header.ID, body.ID, EdgeCondTrue, "")
		b.graph.AddEdge(header.ID, exit.ID, EdgeCondFalse, "")
	}

	b.graph.Loops[header.ID] = &LoopInfo{
		Kind: LoopDoPre, Init: NoTarget, Header: header.ID,
		Cond: NoTarget, Increment: NoTarget, Exit: exit.ID, Stmt: s,
	}

	ctx := &loopCtx{kind: ast.ExitDo, continueTarget: header.ID, exitTarget: exit.ID}
	b.loops = append(b.loops, ctx)
	b.current = body
	b.buildRange(s.Body)
	if !b.current.IsTerminated {
		b.graph.AddEdge(b.current.ID, header.ID, EdgeJump, "") // back-edge
	}
	b.loops = b.loops[:len(b.loops)-1]

	b.current = exit
}

func (b *Builder) processDoPost(s *ast.DoStmt) {
	bodyEntry := b.graph.NewBlock("do.body")
	bodyEntry.IsLoopHeader = true
	b.flowTo(bodyEntry, EdgeFallthrough)

	info := &LoopInfo{
		Kind: LoopDoPost, Init: NoTarget, Header: bodyEntry.ID,
		Cond: NoTarget, Increment: NoTarget, Exit: NoTarget, Stmt: s,
	}
	b.graph.Loops[bodyEntry.ID] = info

	ctx := &loopCtx{kind: ast.ExitDo, continueTarget: NoTarget, exitTarget: NoTarget}
	b.loops = append(b.loops, ctx)
	b.current = bodyEntry
	b.buildRange(s.Body)

	exit := b.graph.NewBlock("do.exit")
	exit.IsLoopExit = true
	info.Exit = exit.ID

	if s.Post != nil {
		cond := b.graph.NewBlock("do.cond")
		cond.Add(s)
		info.Cond = cond.ID
		// the condition block sits between body tail and the back-edge;
		// its id is higher than the exit's, which is harmless: ids carry
		// no ordering
		b.flowTo(cond, EdgeFallthrough)
		if s.Post.Until {
			b.graph.AddEdge(cond.ID, bodyEntry.ID, EdgeCondFalse, "")
			b.graph.AddEdge(cond.ID, exit.ID, EdgeCondTrue, "")
		} else {
			b.graph.AddEdge(cond.ID, bodyEntry.ID, EdgeCondTrue, "")
			b.graph.AddEdge(cond.ID, exit.ID, EdgeCondFalse, "")
		}
		for _, id := range ctx.pendingContinues {
			b.graph.AddEdge(id, cond.ID, EdgeJump, "")
		}
	} else {
		// bare DO ... LOOP: unconditional back-edge; only EXIT DO leaves
		if !b.current.IsTerminated {
			b.graph.AddEdge(b.current.ID, bodyEntry.ID, EdgeJump, "")
		}
		for _, id := range ctx.pendingContinues {
			b.graph.AddEdge(id, bodyEntry.ID, EdgeJump, "")
		}
	}
	for _, id := range ctx.pendingExits {
		b.graph.AddEdge(id, exit.ID, EdgeJump, "")
	}
	b.loops = b.loops[:len(b.loops)-1]

	b.current = exit
}

// ============================================================================
// SELECT CASE
// ============================================================================
//
//	       [dispatch]
//	      /    |     \
//	[case0] [case1] [otherwise]
//	      \    |     /
//	       [merge]
func (b *Builder) processSelect(s *ast.SelectStmt) {
	dispatch := b.current
	dispatch.Add(s)

	merge := b.graph.NewBlock("select.merge")
	b.selects = append(b.selects, &selectCtx{merge: merge.ID})

	for i, arm := range s.Cases {
		caseBlock := b.graph.NewBlock(fmt.Sprintf("select.case.%d", i))
		b.graph.AddEdge(dispatch.ID, caseBlock.ID, EdgeJump, strconv.Itoa(i))
		b.current = caseBlock
		b.buildRange(arm.Body)
		b.flowTo(merge, EdgeFallthrough)
	}

	otherwise := b.graph.NewBlock("select.otherwise")
	b.graph.AddEdge(dispatch.ID, otherwise.ID, EdgeJump, "default")
	b.current = otherwise
	b.buildRange(s.Default)
	b.flowTo(merge, EdgeFallthrough)

	b.selects = b.selects[:len(b.selects)-1]
	b.current = merge
}

// ============================================================================
// TRY / CATCH / FINALLY
// ============================================================================

func (b *Builder) processTry(s *ast.TryStmt) {
	catch := b.graph.NewBlock("try.catch")
	var finally *BasicBlock
	if len(s.Finally) > 0 {
		finally = b.graph.NewBlock("try.finally")
	}

	b.trys = append(b.trys, &tryCtx{catch: catch.ID})
	b.buildRange(s.Body)
	bodyExit := b.current
	b.trys = b.trys[:len(b.trys)-1]

	if finally != nil {
		if !bodyExit.IsTerminated {
			b.graph.AddEdge(bodyExit.ID, finally.ID, EdgeFallthrough, "")
		}
		b.current = catch
		b.buildRange(s.Catch)
		b.flowTo(finally, EdgeFallthrough)
		b.current = finally
		b.buildRange(s.Finally)
		return // post-FINALLY merge is the current block
	}

	merge := b.graph.NewBlock("try.merge")
	if !bodyExit.IsTerminated {
		b.graph.AddEdge(bodyExit.ID, merge.ID, EdgeFallthrough, "")
	}
	b.current = catch
	b.buildRange(s.Catch)
	b.flowTo(merge, EdgeFallthrough)
	b.current = merge
}

func (b *Builder) processThrow(s *ast.ThrowStmt) {
	b.current.Add(s)
	if len(b.trys) > 0 {
		b.graph.AddEdge(b.current.ID, b.trys[len(b.trys)-1].catch, EdgeException, "")
	}
	b.current.IsTerminated = true
	b.startUnreachable("after.throw")
}

// ============================================================================
// GOTO / GOSUB / RETURN / ON
// ============================================================================

func (b *Builder) processGoto(s *ast.GotoStmt) {
	b.current.Add(s)
	b.wireJump(b.current.ID, s.TargetLine, s.TargetLabel, EdgeJump, "", s.Location())
	b.current.IsTerminated = true
	b.startUnreachable("after.goto")
}

// processGosub creates the return-continuation block immediately and
// registers it, then pairs a CALL edge with the FALLTHROUGH edge to the
// continuation. The emitter relies on the pair: the CALL target is where
// to jump, the FALLTHROUGH target is the id pushed for RETURN dispatch.
func (b *Builder) processGosub(s *ast.GosubStmt) {
	b.current.Add(s)
	source := b.current

	cont := b.graph.NewBlock("gosub.ret")
	b.graph.GosubReturnBlocks[cont.ID] = true

	b.wireJump(source.ID, s.TargetLine, s.TargetLabel, EdgeCall, "", s.Location())
	b.graph.AddEdge(source.ID, cont.ID, EdgeFallthrough, "")
	b.current = cont
}

func (b *Builder) processReturn(s *ast.ReturnStmt) {
	b.current.Add(s)
	b.graph.AddEdge(b.current.ID, NoTarget, EdgeReturn, "")
	b.current.IsTerminated = true
	b.startUnreachable("after.return")
}

// processOn wires the multiway dispatch. Target edges are always deferred
// so they resolve against the final block of each numbered line, labeled
// "1".."n" for the selector values. Selector 0 or > n falls through.
func (b *Builder) processOn(s *ast.OnGotoStmt) {
	b.current.Add(s)
	source := b.current

	typ := EdgeJump
	if s.IsGosub {
		typ = EdgeCall
	}
	for i, line := range s.Targets {
		b.deferred = append(b.deferred, deferredEdge{
			from: source.ID, line: line, typ: typ,
			edgeLabel: strconv.Itoa(i + 1), loc: s.Location(),
		})
	}

	if s.IsGosub {
		cont := b.graph.NewBlock("on.gosub.ret")
		b.graph.GosubReturnBlocks[cont.ID] = true
		b.graph.AddEdge(source.ID, cont.ID, EdgeFallthrough, "")
		b.current = cont
		return
	}
	next := b.graph.NewBlock("on.next")
	b.graph.AddEdge(source.ID, next.ID, EdgeFallthrough, "")
	b.current = next
}

// wireJump resolves a line/label target now when it is already known,
// otherwise records a deferred edge for the cleanup pass.
func (b *Builder) wireJump(from, line int, label string, typ EdgeType, edgeLabel string, loc compiler.Location) {
	if line != 0 {
		if target, ok := b.graph.LineToBlock[line]; ok {
			b.graph.AddEdge(from, target, typ, edgeLabel)
			return
		}
	} else if label != "" {
		if target, ok := b.graph.LabelToBlock[names.Canon(label)]; ok {
			b.graph.AddEdge(from, target, typ, edgeLabel)
			return
		}
	}
	b.deferred = append(b.deferred, deferredEdge{
		from: from, line: line, label: label, typ: typ, edgeLabel: edgeLabel, loc: loc,
	})
}

func (b *Builder) resolveDeferred() {
	for _, d := range b.deferred {
		var target int
		var ok bool
		if d.line != 0 {
			target, ok = b.graph.LineToBlock[d.line]
		} else {
			target, ok = b.graph.LabelToBlock[names.Canon(d.label)]
		}
		if !ok {
			what := strconv.Itoa(d.line)
			if d.line == 0 {
				what = d.label
			}
			b.errorf(d.loc, "jump target %s does not exist", what)
			continue
		}
		b.graph.AddEdge(d.from, target, d.typ, d.edgeLabel)
	}
	b.deferred = nil
}

// validateReturns rejects a callable that contains RETURN but registered
// no GOSUB continuation: the dispatch domain would be empty.
func (b *Builder) validateReturns() {
	if len(b.graph.GosubReturnBlocks) > 0 {
		return
	}
	for _, e := range b.graph.Edges {
		if e.Type == EdgeReturn {
			block := b.graph.Block(e.From)
			if last := block.Last(); last != nil {
				b.stmtErrorf(last, "RETURN without any GOSUB site")
			} else {
				b.errorf(compiler.LocationZero, "RETURN without any GOSUB site")
			}
			return
		}
	}
}

// ============================================================================
// EXIT / CONTINUE / END
// ============================================================================

func (b *Builder) processExit(s *ast.ExitStmt) {
	switch s.Kind {
	case ast.ExitFunction, ast.ExitSub:
		if b.owner == "" {
			b.stmtErrorf(s, "EXIT %s outside SUB/FUNCTION", s.Kind)
		} else if fn, ok := b.table.Funcs[b.owner]; ok {
			if fn.IsSub != (s.Kind == ast.ExitSub) {
				b.stmtErrorf(s, "EXIT %s inside %s", s.Kind, fn.Name)
			}
		}
		b.current.Add(s)
		b.current.IsTerminated = true
		b.startUnreachable("after.exit")
		return
	case ast.ExitSelect:
		if len(b.selects) == 0 {
			b.stmtErrorf(s, "EXIT SELECT outside SELECT CASE")
			return
		}
		b.current.Add(s)
		b.graph.AddEdge(b.current.ID, b.selects[len(b.selects)-1].merge, EdgeJump, "")
		b.current.IsTerminated = true
		b.startUnreachable("after.exit")
		return
	}

	// loop EXIT: the innermost loop must be of the matching kind
	if len(b.loops) == 0 {
		b.stmtErrorf(s, "EXIT %s outside any loop", s.Kind)
		return
	}
	ctx := b.loops[len(b.loops)-1]
	if ctx.kind != s.Kind {
		b.stmtErrorf(s, "EXIT %s does not match the innermost %s loop", s.Kind, ctx.kind)
		return
	}
	b.current.Add(s)
	if ctx.exitTarget != NoTarget {
		b.graph.AddEdge(b.current.ID, ctx.exitTarget, EdgeJump, "")
	} else {
		ctx.pendingExits = append(ctx.pendingExits, b.current.ID)
	}
	b.current.IsTerminated = true
	b.startUnreachable("after.exit")
}

func (b *Builder) processContinue(s *ast.ContinueStmt) {
	if len(b.loops) == 0 {
		b.stmtErrorf(s, "CONTINUE outside any loop")
		return
	}
	ctx := b.loops[len(b.loops)-1]
	b.current.Add(s)
	if ctx.continueTarget != NoTarget {
		b.graph.AddEdge(b.current.ID, ctx.continueTarget, EdgeJump, "")
	} else {
		ctx.pendingContinues = append(ctx.pendingContinues, b.current.ID)
	}
	b.current.IsTerminated = true
	b.startUnreachable("after.continue")
}

func (b *Builder) processEnd(s *ast.EndStmt) {
	b.current.Add(s)
	b.current.IsTerminated = true
	b.startUnreachable("after.end")
}
