package sem

import (
	"testing"

	"fbcqbe/compiler"
	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/parser"
	"fbcqbe/compiler/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzeCode(t *testing.T, code string) *Analysis {
	t.Helper()
	prog, parseDiags := parser.Parse("test", code)
	require.False(t, parseDiags.HasErrors(), "parse: %v", parseDiags)
	analysis, diags := Analyze(prog)
	require.False(t, diags.HasErrors(), "sem: %v", diags)
	return analysis
}

func analyzeExpectingError(t *testing.T, code string) compiler.Diagnostics {
	t.Helper()
	prog, parseDiags := parser.Parse("test", code)
	require.False(t, parseDiags.HasErrors())
	_, diags := Analyze(prog)
	return diags
}

// ============================================================================
// Variable typing and scoping
// ============================================================================

func Test_Sem_SigilsTypeVariables(t *testing.T) {
	analysis := analyzeCode(t, "LET A$ = \"x\"\nLET B% = 1\nLET C& = 2\nLET D! = 3\nLET E# = 4\nLET F = 5\n")
	table := analysis.Table

	cases := map[string]types.Kind{
		"A$": types.String,
		"B%": types.Integer,
		"C&": types.Long,
		"D!": types.Single,
		"E#": types.Double,
		"F":  types.Double,
	}
	for name, want := range cases {
		sym, ok := table.Lookup("", name)
		require.True(t, ok, name)
		assert.Equal(t, want, sym.Kind, name)
	}
}

func Test_Sem_SigilDistinguishesVariables(t *testing.T) {
	analysis := analyzeCode(t, "LET N = 1\nLET N$ = \"x\"\n")
	num, ok := analysis.Table.Lookup("", "N")
	require.True(t, ok)
	str, ok := analysis.Table.Lookup("", "N$")
	require.True(t, ok)
	assert.NotEqual(t, num.Name, str.Name)
}

func Test_Sem_NamesAreCaseInsensitive(t *testing.T) {
	analysis := analyzeCode(t, "LET counter = 1\nLET COUNTER = 2\n")
	assert.Len(t, analysis.Table.VarsOf(""), 1)
}

func Test_Sem_GlobalRoutesToProgramStorage(t *testing.T) {
	code := `
GLOBAL Total
LET Total = 1
SUB Bump()
  SHARED Total
  LET Total = Total + 1
END SUB
`
	analysis := analyzeCode(t, code)
	sym, ok := analysis.Table.Lookup("", "Total")
	require.True(t, ok)
	assert.Equal(t, ScopeGlobal, sym.Scope)
	assert.Equal(t, GlobalOwner, sym.Owner)

	// the SUB resolves the same symbol
	fromSub, ok := analysis.Table.Lookup("BUMP", "Total")
	require.True(t, ok)
	assert.Same(t, sym, fromSub)
}

func Test_Sem_LocalsAreScopedToTheirFunction(t *testing.T) {
	code := `
SUB Work()
  LOCAL Temp
  LET Temp = 1
END SUB
LET X = 1
`
	analysis := analyzeCode(t, code)
	_, inMain := analysis.Table.Lookup("", "Temp")
	assert.False(t, inMain, "a SUB's locals are invisible to main")
	sym, inSub := analysis.Table.Lookup("WORK", "Temp")
	require.True(t, inSub)
	assert.Equal(t, ScopeLocal, sym.Scope)
}

// ============================================================================
// Arrays
// ============================================================================

func Test_Sem_DimRecordsArrayMetadata(t *testing.T) {
	analysis := analyzeCode(t, "DIM A(10), G%(3, 4)\n")
	a, ok := analysis.Table.Lookup("", "A")
	require.True(t, ok)
	assert.True(t, a.IsArray)
	assert.Equal(t, 1, a.Dims)
	assert.Equal(t, types.Double, a.ElemKind)

	g, ok := analysis.Table.Lookup("", "G%")
	require.True(t, ok)
	assert.Equal(t, 2, g.Dims)
	assert.Equal(t, types.Integer, g.ElemKind)
}

func Test_Sem_ThreeDimensionalArrayRejected(t *testing.T) {
	diags := analyzeExpectingError(t, "DIM A(1, 2, 3)\n")
	assert.True(t, diags.HasErrors())
}

func Test_Sem_IndexCountMustMatchDims(t *testing.T) {
	diags := analyzeExpectingError(t, "DIM A(5)\nLET A(1, 2) = 3\n")
	assert.True(t, diags.HasErrors())
}

func Test_Sem_StoreToUndeclaredArrayRejected(t *testing.T) {
	diags := analyzeExpectingError(t, "LET A(1) = 3\n")
	assert.True(t, diags.HasErrors())
}

// ============================================================================
// SUB / FUNCTION signatures
// ============================================================================

func Test_Sem_FunctionSignature(t *testing.T) {
	code := `
FUNCTION Area#(W#, H#)
  Area# = W# * H#
END FUNCTION
`
	analysis := analyzeCode(t, code)
	fn, ok := analysis.Table.LookupFunc("Area#")
	require.True(t, ok)
	assert.False(t, fn.IsSub)
	assert.Equal(t, types.Double, fn.Return)
	require.Len(t, fn.Params, 2)
	assert.Equal(t, types.Double, fn.Params[0].Kind)

	// the function name is its own return slot
	ret, ok := analysis.Table.Lookup(fn.Name, "Area#")
	require.True(t, ok)
	assert.Equal(t, types.Double, ret.Kind)
}

func Test_Sem_ParamAsClauseOverridesSigil(t *testing.T) {
	code := `
SUB Tally(N AS INTEGER)
  PRINT N
END SUB
`
	analysis := analyzeCode(t, code)
	fn, _ := analysis.Table.LookupFunc("Tally")
	require.Len(t, fn.Params, 1)
	assert.Equal(t, types.Integer, fn.Params[0].Kind)
}

func Test_Sem_DuplicateFunctionRejected(t *testing.T) {
	code := `
SUB Twice()
END SUB
SUB Twice()
END SUB
`
	diags := analyzeExpectingError(t, code)
	assert.True(t, diags.HasErrors())
}

func Test_Sem_CallArgumentCountChecked(t *testing.T) {
	code := `
SUB Greet(N$)
  PRINT N$
END SUB
CALL Greet("a", "b")
`
	diags := analyzeExpectingError(t, code)
	assert.True(t, diags.HasErrors())
}

func Test_Sem_CallOfUndeclaredSubRejected(t *testing.T) {
	diags := analyzeExpectingError(t, "CALL Nope(1)\n")
	assert.True(t, diags.HasErrors())
}

// ============================================================================
// Records
// ============================================================================

func Test_Sem_RecordLayout(t *testing.T) {
	code := `
TYPE Sample
  Flag AS INTEGER
  Amount AS DOUBLE
  Count AS INTEGER
END TYPE
DIM S AS Sample
`
	analysis := analyzeCode(t, code)
	rec, ok := analysis.Table.Records["SAMPLE"]
	require.True(t, ok)
	require.Len(t, rec.Fields, 3)
	assert.Equal(t, 0, rec.Fields[0].Offset)
	assert.Equal(t, 8, rec.Fields[1].Offset, "doubles align to 8")
	assert.Equal(t, 16, rec.Fields[2].Offset)
	assert.Equal(t, 24, rec.Size)

	sym, ok := analysis.Table.Lookup("", "S")
	require.True(t, ok)
	assert.Equal(t, types.Record, sym.Kind)
	assert.Equal(t, "SAMPLE", sym.RecordName)
}

// ============================================================================
// DATA pool
// ============================================================================

func Test_Sem_DataPoolKeepsSourceOrder(t *testing.T) {
	code := "10 DATA 1, 2\n20 LET X = 0\n30 DATA \"a\"\n"
	analysis := analyzeCode(t, code)
	require.Len(t, analysis.Data, 2)
	assert.Equal(t, 10, analysis.Data[0].Line)
	assert.Len(t, analysis.Data[0].Values, 2)
	assert.Equal(t, 30, analysis.Data[1].Line)
}

func Test_Sem_ForVariableIsDeclared(t *testing.T) {
	analysis := analyzeCode(t, "FOR I = 1 TO 3\nPRINT I\nNEXT I\n")
	sym, ok := analysis.Table.Lookup("", "I")
	require.True(t, ok)
	assert.True(t, sym.Kind.IsNumeric())
}

func Test_Sem_NestedDeclarationRejected(t *testing.T) {
	prog := &ast.Program{Source: "test"}
	sub := &ast.SubDecl{Name: "Outer"}
	inner := &ast.SubDecl{Name: "Inner"}
	sub.Body = []ast.Statement{inner}
	prog.Statements = []ast.Statement{sub}

	_, diags := Analyze(prog)
	assert.True(t, diags.HasErrors())
}
