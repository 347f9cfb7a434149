package sem

import (
	"sort"

	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/names"
	"fbcqbe/compiler/types"
)

// ============================================================================
// Symbol table
// ============================================================================
//
// Scoping in the dialect is flat: the main program owns one scope, every
// SUB/FUNCTION owns one scope, and GLOBAL/SHARED route a name to program
// storage. Owner "" denotes the main scope; global storage uses the
// distinguished owner GlobalOwner.

const GlobalOwner = "\x00global"

type VarScope uint8

const (
	ScopeMain VarScope = iota
	ScopeLocal
	ScopeParam
	ScopeGlobal
)

func (s VarScope) String() string {
	switch s {
	case ScopeMain:
		return "main"
	case ScopeLocal:
		return "local"
	case ScopeParam:
		return "param"
	default:
		return "global"
	}
}

// VarSymbol describes one scalar or array variable.
type VarSymbol struct {
	Name       string // canonical (sigil-tagged) name
	Source     string // name as written
	Kind       types.Kind
	RecordName string // record type name when Kind == types.Record
	Scope      VarScope
	Owner      string // owning function, "" for main, GlobalOwner for globals
	IsArray    bool
	Dims       int // declared dimension count for arrays
	ElemKind   types.Kind
}

// FuncSymbol describes one user SUB or FUNCTION.
type FuncSymbol struct {
	Name   string // canonical
	Source string
	IsSub  bool
	Params []*VarSymbol
	Return types.Kind
	Body   []ast.Statement
}

// RecordField is one member of a user record type, with its byte offset.
type RecordField struct {
	Name   string
	Kind   types.Kind
	Offset int
}

// RecordType is a user-defined record layout.
type RecordType struct {
	Name   string
	Fields []*RecordField
	Size   int
}

// DataEntry is the literal payload of one DATA statement, in source order.
type DataEntry struct {
	Line   int
	Values []ast.Expression
}

type SymbolTable struct {
	vars    map[string]*VarSymbol
	Funcs   map[string]*FuncSymbol
	Records map[string]*RecordType
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		vars:    make(map[string]*VarSymbol),
		Funcs:   make(map[string]*FuncSymbol),
		Records: make(map[string]*RecordType),
	}
}

func varKey(owner, canon string) string {
	return owner + "\x1f" + canon
}

// Declare registers a variable symbol; an existing symbol wins.
func (t *SymbolTable) Declare(sym *VarSymbol) *VarSymbol {
	key := varKey(sym.Owner, sym.Name)
	if existing, ok := t.vars[key]; ok {
		return existing
	}
	t.vars[key] = sym
	return sym
}

// Lookup resolves a name in the given scope: owner scope first, then
// global storage.
func (t *SymbolTable) Lookup(owner, name string) (*VarSymbol, bool) {
	canon := names.Canon(name)
	if sym, ok := t.vars[varKey(owner, canon)]; ok {
		return sym, true
	}
	if sym, ok := t.vars[varKey(GlobalOwner, canon)]; ok {
		return sym, true
	}
	// a SUB/FUNCTION does not see main's locals
	return nil, false
}

// LookupFunc resolves a user SUB or FUNCTION by name.
func (t *SymbolTable) LookupFunc(name string) (*FuncSymbol, bool) {
	f, ok := t.Funcs[names.Canon(name)]
	return f, ok
}

// IsArray reports whether name resolves to an array in the given scope.
func (t *SymbolTable) IsArray(owner, name string) bool {
	sym, ok := t.Lookup(owner, name)
	return ok && sym.IsArray
}

// VarsOf returns the variables owned by one scope, sorted by name so that
// emission order is deterministic.
func (t *SymbolTable) VarsOf(owner string) []*VarSymbol {
	var syms []*VarSymbol
	for key, sym := range t.vars {
		if sym.Owner == owner && key == varKey(owner, sym.Name) {
			syms = append(syms, sym)
		}
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].Name < syms[j].Name })
	return syms
}

// Globals returns all program-storage variables, sorted by name.
func (t *SymbolTable) Globals() []*VarSymbol {
	return t.VarsOf(GlobalOwner)
}

// FuncNames returns the declared SUB/FUNCTION names in sorted order.
func (t *SymbolTable) FuncNames() []string {
	var out []string
	for name := range t.Funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
