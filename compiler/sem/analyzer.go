package sem

import (
	"fbcqbe/compiler"
	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/names"
	"fbcqbe/compiler/types"
)

// ============================================================================
// Semantic analysis
// ============================================================================
//
// The analyzer produces the symbol table the CFG builder and the emitter
// consume: variable kinds and scopes, array metadata, SUB/FUNCTION
// signatures, record layouts and the DATA pool. Variables follow the
// classic rule: first use declares, the type sigil (or AS clause) types.

// Analysis is the analyzer's output bundle.
type Analysis struct {
	Table *SymbolTable
	Data  []DataEntry
}

type Analyzer struct {
	table       *SymbolTable
	data        []DataEntry
	globalNames map[string]bool // names routed to program storage
	rep         *compiler.Reporter
}

func NewAnalyzer(source string) *Analyzer {
	return &Analyzer{
		table:       NewSymbolTable(),
		globalNames: make(map[string]bool),
		rep:         compiler.NewReporter(source, compiler.PipelineSemanticAnalysis),
	}
}

// Analyze walks the program and builds the symbol table.
func Analyze(prog *ast.Program) (*Analysis, compiler.Diagnostics) {
	a := NewAnalyzer(prog.Source)

	// pass 1: global routing, record types and callable signatures, so
	// that forward references resolve
	a.collectGlobalNames(prog.Statements)
	a.collectDecls(prog.Statements)

	// pass 2: walk bodies, declaring variables and checking uses
	var mainStmts []ast.Statement
	for _, stmt := range prog.Statements {
		switch s := stmt.(type) {
		case *ast.FunctionDecl:
			a.walkStatements(names.Canon(s.Name), s.Body)
		case *ast.SubDecl:
			a.walkStatements(names.Canon(s.Name), s.Body)
		case *ast.TypeDecl:
			// handled in pass 1
		default:
			mainStmts = append(mainStmts, stmt)
		}
	}
	a.walkStatements("", mainStmts)

	return &Analysis{Table: a.table, Data: a.data}, a.rep.List()
}

func (a *Analyzer) errorf(loc compiler.Location, format string, args ...interface{}) {
	a.rep.Errorf(loc, format, args...)
}

// ============================================================================
// Pass 1 - declarations
// ============================================================================

// collectGlobalNames finds every GLOBAL and SHARED statement anywhere in
// the tree; the named variables live in program storage regardless of
// where they are first assigned.
func (a *Analyzer) collectGlobalNames(stmts []ast.Statement) {
	walkTree(stmts, func(stmt ast.Statement) {
		switch s := stmt.(type) {
		case *ast.GlobalStmt:
			for _, n := range s.Names {
				a.globalNames[names.Canon(n)] = true
			}
		case *ast.SharedStmt:
			for _, n := range s.Names {
				a.globalNames[names.Canon(n)] = true
			}
		}
	})
}

func (a *Analyzer) collectDecls(stmts []ast.Statement) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.TypeDecl:
			a.declareRecord(s)
		case *ast.FunctionDecl:
			a.declareFunc(s.Name, s.Params, false, s.ReturnType, s.Body, s.Location())
		case *ast.SubDecl:
			a.declareFunc(s.Name, s.Params, true, "", s.Body, s.Location())
		}
	}
}

func (a *Analyzer) declareRecord(decl *ast.TypeDecl) {
	name := names.Canon(decl.Name)
	if _, exists := a.table.Records[name]; exists {
		a.errorf(decl.Location(), "duplicate TYPE %s", decl.Name)
		return
	}
	rec := &RecordType{Name: name}
	offset := 0
	for _, f := range decl.Fields {
		kind, ok := types.FromName(f.Type)
		if !ok {
			a.errorf(decl.Location(), "unknown field type %s in TYPE %s", f.Type, decl.Name)
		}
		size := kind.Size()
		// align the field to its own size
		offset = (offset + size - 1) / size * size
		rec.Fields = append(rec.Fields, &RecordField{
			Name:   names.Canon(f.Name),
			Kind:   kind,
			Offset: offset,
		})
		offset += size
	}
	rec.Size = (offset + 7) / 8 * 8
	a.table.Records[name] = rec
}

func (a *Analyzer) declareFunc(name string, params []*ast.Param, isSub bool, returnType string, body []ast.Statement, loc compiler.Location) {
	canon := names.Canon(name)
	if _, exists := a.table.Funcs[canon]; exists {
		a.errorf(loc, "duplicate SUB/FUNCTION %s", name)
		return
	}
	fn := &FuncSymbol{Name: canon, Source: name, IsSub: isSub, Body: body}
	if !isSub {
		if returnType != "" {
			kind, ok := types.FromName(returnType)
			if !ok {
				a.errorf(loc, "unknown return type %s for FUNCTION %s", returnType, name)
			}
			fn.Return = kind
		} else {
			fn.Return = types.FromSigil(name)
		}
	}
	for _, p := range params {
		kind := types.FromSigil(p.Name)
		if p.Type != "" {
			if k, ok := types.FromName(p.Type); ok {
				kind = k
			} else {
				a.errorf(loc, "unknown parameter type %s in %s", p.Type, name)
			}
		}
		sym := a.table.Declare(&VarSymbol{
			Name:   names.Canon(p.Name),
			Source: p.Name,
			Kind:   kind,
			Scope:  ScopeParam,
			Owner:  canon,
		})
		fn.Params = append(fn.Params, sym)
	}
	if !isSub {
		// the function name doubles as its return-value variable
		a.table.Declare(&VarSymbol{
			Name:   canon,
			Source: name,
			Kind:   fn.Return,
			Scope:  ScopeLocal,
			Owner:  canon,
		})
	}
	a.table.Funcs[canon] = fn
}

// ============================================================================
// Pass 2 - bodies
// ============================================================================

// ownerFor routes a name to program storage when GLOBAL/SHARED claimed it.
func (a *Analyzer) ownerFor(owner, canon string) (string, VarScope) {
	if a.globalNames[canon] {
		return GlobalOwner, ScopeGlobal
	}
	if owner == "" {
		return "", ScopeMain
	}
	return owner, ScopeLocal
}

// declareScalar declares a scalar variable on first use.
func (a *Analyzer) declareScalar(owner, name string) *VarSymbol {
	canon := names.Canon(name)
	if sym, ok := a.table.Lookup(owner, name); ok {
		return sym
	}
	varOwner, scope := a.ownerFor(owner, canon)
	return a.table.Declare(&VarSymbol{
		Name:   canon,
		Source: name,
		Kind:   types.FromSigil(name),
		Scope:  scope,
		Owner:  varOwner,
	})
}

func (a *Analyzer) walkStatements(owner string, stmts []ast.Statement) {
	for _, stmt := range stmts {
		a.walkStatement(owner, stmt)
	}
}

func (a *Analyzer) walkStatement(owner string, stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		a.walkTarget(owner, s.Target)
		a.walkExpr(owner, s.Value)
	case *ast.PrintStmt:
		for _, item := range s.Items {
			a.walkExpr(owner, item.Expr)
		}
	case *ast.InputStmt:
		for _, t := range s.Targets {
			a.walkTarget(owner, t)
		}
	case *ast.ReadStmt:
		for _, t := range s.Targets {
			a.walkTarget(owner, t)
		}
	case *ast.DataStmt:
		a.data = append(a.data, DataEntry{Line: s.Line(), Values: s.Values})
	case *ast.DimStmt:
		for _, d := range s.Arrays {
			a.declareDim(owner, d, s.Location())
		}
	case *ast.RedimStmt:
		for _, d := range s.Arrays {
			a.checkRedim(owner, d, s.Location())
			for _, b := range d.Bounds {
				a.walkExpr(owner, b)
			}
		}
	case *ast.EraseStmt:
		for _, n := range s.Names {
			if !a.table.IsArray(owner, n) {
				a.errorf(s.Location(), "ERASE of non-array %s", n)
			}
		}
	case *ast.LocalStmt:
		for _, n := range s.Names {
			if owner == "" {
				a.errorf(s.Location(), "LOCAL outside SUB/FUNCTION")
				continue
			}
			a.table.Declare(&VarSymbol{
				Name:   names.Canon(n),
				Source: n,
				Kind:   types.FromSigil(n),
				Scope:  ScopeLocal,
				Owner:  owner,
			})
		}
	case *ast.SharedStmt, *ast.GlobalStmt:
		// collected in pass 1; declare the storage now
		var ns []string
		if sh, ok := s.(*ast.SharedStmt); ok {
			ns = sh.Names
		} else {
			ns = s.(*ast.GlobalStmt).Names
		}
		for _, n := range ns {
			a.table.Declare(&VarSymbol{
				Name:   names.Canon(n),
				Source: n,
				Kind:   types.FromSigil(n),
				Scope:  ScopeGlobal,
				Owner:  GlobalOwner,
			})
		}
	case *ast.CallStmt:
		fn, ok := a.table.LookupFunc(s.Name)
		if !ok {
			a.errorf(s.Location(), "CALL of undeclared SUB %s", s.Name)
		} else if len(s.Args) != len(fn.Params) {
			a.errorf(s.Location(), "%s expects %d arguments, got %d", s.Name, len(fn.Params), len(s.Args))
		}
		for _, arg := range s.Args {
			a.walkExpr(owner, arg)
		}
	case *ast.IfStmt:
		a.walkExpr(owner, s.Cond)
		a.walkStatements(owner, s.Then)
		a.walkStatements(owner, s.Else)
	case *ast.WhileStmt:
		a.walkExpr(owner, s.Cond)
		a.walkStatements(owner, s.Body)
	case *ast.ForStmt:
		sym := a.declareScalar(owner, s.Var)
		if !sym.Kind.IsNumeric() {
			a.errorf(s.Location(), "FOR variable %s is not numeric", s.Var)
		}
		a.walkExpr(owner, s.Start)
		a.walkExpr(owner, s.Limit)
		if s.Step != nil {
			a.walkExpr(owner, s.Step)
		}
		a.walkStatements(owner, s.Body)
	case *ast.RepeatStmt:
		a.walkStatements(owner, s.Body)
		a.walkExpr(owner, s.Cond)
	case *ast.DoStmt:
		if s.Pre != nil {
			a.walkExpr(owner, s.Pre.Expr)
		}
		a.walkStatements(owner, s.Body)
		if s.Post != nil {
			a.walkExpr(owner, s.Post.Expr)
		}
	case *ast.SelectStmt:
		a.walkExpr(owner, s.Selector)
		for _, arm := range s.Cases {
			for _, pred := range arm.Preds {
				a.walkExpr(owner, pred.Lo)
				if pred.Hi != nil {
					a.walkExpr(owner, pred.Hi)
				}
			}
			a.walkStatements(owner, arm.Body)
		}
		a.walkStatements(owner, s.Default)
	case *ast.TryStmt:
		a.walkStatements(owner, s.Body)
		a.walkStatements(owner, s.Catch)
		a.walkStatements(owner, s.Finally)
	case *ast.ThrowStmt:
		if s.Value != nil {
			a.walkExpr(owner, s.Value)
		}
	case *ast.OnGotoStmt:
		a.walkExpr(owner, s.Selector)
	case *ast.FunctionDecl, *ast.SubDecl, *ast.TypeDecl:
		if owner != "" {
			a.errorf(stmt.Location(), "nested SUB/FUNCTION declarations are not allowed")
		}
	}
}

func (a *Analyzer) walkTarget(owner string, target ast.Expression) {
	switch t := target.(type) {
	case *ast.VarRef:
		a.declareScalar(owner, t.Name)
	case *ast.ArrayRef:
		sym, ok := a.table.Lookup(owner, t.Name)
		if !ok || !sym.IsArray {
			a.errorf(t.Location(), "store to undeclared array %s", t.Name)
		} else if len(t.Indices) != sym.Dims {
			a.errorf(t.Location(), "array %s has %d dimensions, got %d indices", t.Name, sym.Dims, len(t.Indices))
		}
		for _, idx := range t.Indices {
			a.walkExpr(owner, idx)
		}
	}
}

func (a *Analyzer) walkExpr(owner string, expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.VarRef:
		a.declareScalar(owner, e.Name)
	case *ast.ArrayRef:
		a.walkTarget(owner, e)
	case *ast.UnaryExpr:
		a.walkExpr(owner, e.Operand)
	case *ast.BinaryExpr:
		a.walkExpr(owner, e.Left)
		a.walkExpr(owner, e.Right)
	case *ast.CallExpr:
		// array read, user function or intrinsic; arguments always walk
		if sym, ok := a.table.Lookup(owner, e.Name); ok && sym.IsArray {
			if len(e.Args) != sym.Dims {
				a.errorf(e.Location(), "array %s has %d dimensions, got %d indices", e.Name, sym.Dims, len(e.Args))
			}
		}
		for _, arg := range e.Args {
			a.walkExpr(owner, arg)
		}
	case *ast.IIfExpr:
		a.walkExpr(owner, e.Cond)
		a.walkExpr(owner, e.WhenTrue)
		a.walkExpr(owner, e.WhenFalse)
	}
}

func (a *Analyzer) declareDim(owner string, d *ast.ArrayDecl, loc compiler.Location) {
	canon := names.Canon(d.Name)
	varOwner, scope := a.ownerFor(owner, canon)
	if len(d.Bounds) == 0 {
		// typed scalar: DIM X AS LONG, DIM P AS POINT
		kind := types.FromSigil(d.Name)
		recordName := ""
		if d.TypeName != "" {
			if k, ok := types.FromName(d.TypeName); ok {
				kind = k
			} else if _, ok := a.table.Records[names.Canon(d.TypeName)]; ok {
				kind = types.Record
				recordName = names.Canon(d.TypeName)
			} else {
				a.errorf(loc, "unknown type %s in DIM %s", d.TypeName, d.Name)
			}
		}
		a.table.Declare(&VarSymbol{
			Name: canon, Source: d.Name, Kind: kind, RecordName: recordName,
			Scope: scope, Owner: varOwner,
		})
		return
	}
	if len(d.Bounds) > 2 {
		a.errorf(loc, "array %s has %d dimensions, at most 2 are supported", d.Name, len(d.Bounds))
	}
	elem := types.FromSigil(d.Name)
	if d.TypeName != "" {
		if k, ok := types.FromName(d.TypeName); ok {
			elem = k
		} else {
			a.errorf(loc, "unknown element type %s in DIM %s", d.TypeName, d.Name)
		}
	}
	for _, b := range d.Bounds {
		a.walkExpr(owner, b)
	}
	a.table.Declare(&VarSymbol{
		Name: canon, Source: d.Name, Kind: elem, Scope: scope, Owner: varOwner,
		IsArray: true, Dims: len(d.Bounds), ElemKind: elem,
	})
}

func (a *Analyzer) checkRedim(owner string, d *ast.ArrayDecl, loc compiler.Location) {
	sym, ok := a.table.Lookup(owner, d.Name)
	if !ok {
		// REDIM may introduce the array
		a.declareDim(owner, d, loc)
		return
	}
	if !sym.IsArray {
		a.errorf(loc, "REDIM of non-array %s", d.Name)
		return
	}
	if len(d.Bounds) != sym.Dims {
		a.errorf(loc, "REDIM changes %s from %d to %d dimensions", d.Name, sym.Dims, len(d.Bounds))
	}
}

// walkTree applies fn to every statement in the tree, including nested
// bodies.
func walkTree(stmts []ast.Statement, fn func(ast.Statement)) {
	for _, stmt := range stmts {
		fn(stmt)
		switch s := stmt.(type) {
		case *ast.IfStmt:
			walkTree(s.Then, fn)
			walkTree(s.Else, fn)
		case *ast.WhileStmt:
			walkTree(s.Body, fn)
		case *ast.ForStmt:
			walkTree(s.Body, fn)
		case *ast.RepeatStmt:
			walkTree(s.Body, fn)
		case *ast.DoStmt:
			walkTree(s.Body, fn)
		case *ast.SelectStmt:
			for _, arm := range s.Cases {
				walkTree(arm.Body, fn)
			}
			walkTree(s.Default, fn)
		case *ast.TryStmt:
			walkTree(s.Body, fn)
			walkTree(s.Catch, fn)
			walkTree(s.Finally, fn)
		case *ast.FunctionDecl:
			walkTree(s.Body, fn)
		case *ast.SubDecl:
			walkTree(s.Body, fn)
		}
	}
}
