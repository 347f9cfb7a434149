package parser

import (
	"testing"

	"fbcqbe/compiler/ast"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCode(t *testing.T, code string) *ast.Program {
	t.Helper()
	prog, diags := Parse("test", code)
	require.NotNil(t, prog)
	require.False(t, diags.HasErrors(), "diags: %v", diags)
	return prog
}

// ============================================================================
// Lines and simple statements
// ============================================================================

func Test_Parser_LineNumbersAttachToStatements(t *testing.T) {
	prog := parseCode(t, "10 LET X = 1\n20 PRINT X\n")

	require.Len(t, prog.Statements, 2)
	assert.Equal(t, 10, prog.Statements[0].Line())
	assert.Equal(t, 20, prog.Statements[1].Line())
}

func Test_Parser_ColonSeparatesStatements(t *testing.T) {
	prog := parseCode(t, "LET X = 1 : PRINT X : LET Y = 2\n")
	assert.Len(t, prog.Statements, 3)
}

func Test_Parser_LetIsOptional(t *testing.T) {
	prog := parseCode(t, "X = 5\n")
	require.Len(t, prog.Statements, 1)
	let, ok := prog.Statements[0].(*ast.LetStmt)
	require.True(t, ok)
	ref, ok := let.Target.(*ast.VarRef)
	require.True(t, ok)
	assert.Equal(t, "X", ref.Name)
}

func Test_Parser_ArrayAssignmentTarget(t *testing.T) {
	prog := parseCode(t, "A(1, J) = 5\n")
	let := prog.Statements[0].(*ast.LetStmt)
	ref, ok := let.Target.(*ast.ArrayRef)
	require.True(t, ok)
	assert.Equal(t, "A", ref.Name)
	assert.Len(t, ref.Indices, 2)
}

func Test_Parser_PrintSeparators(t *testing.T) {
	prog := parseCode(t, "PRINT 1, 2; 3\n")
	p := prog.Statements[0].(*ast.PrintStmt)
	require.Len(t, p.Items, 3)
	assert.Equal(t, byte(','), p.Items[0].Sep)
	assert.Equal(t, byte(';'), p.Items[1].Sep)
	assert.Equal(t, byte(0), p.Items[2].Sep)
}

func Test_Parser_InputWithPrompt(t *testing.T) {
	prog := parseCode(t, "INPUT \"name? \"; N$\n")
	in := prog.Statements[0].(*ast.InputStmt)
	assert.Equal(t, "name? ", in.Prompt)
	require.Len(t, in.Targets, 1)
}

func Test_Parser_DataHoldsSignedLiterals(t *testing.T) {
	prog := parseCode(t, "DATA 1, -2.5, \"x\"\n")
	d := prog.Statements[0].(*ast.DataStmt)
	require.Len(t, d.Values, 3)
	num := d.Values[1].(*ast.NumberLit)
	assert.Equal(t, -2.5, num.Value)
}

// ============================================================================
// IF forms
// ============================================================================

func Test_Parser_MultilineIfWithElse(t *testing.T) {
	code := `
IF X > 0 THEN
  PRINT "pos"
ELSE
  PRINT "neg"
END IF
`
	prog := parseCode(t, code)
	s := prog.Statements[0].(*ast.IfStmt)
	assert.Len(t, s.Then, 1)
	assert.Len(t, s.Else, 1)
}

func Test_Parser_ElseIfNestsInElse(t *testing.T) {
	code := `
IF X = 1 THEN
  PRINT "a"
ELSEIF X = 2 THEN
  PRINT "b"
ELSE
  PRINT "c"
END IF
`
	prog := parseCode(t, code)
	s := prog.Statements[0].(*ast.IfStmt)
	require.Len(t, s.Else, 1)
	nested, ok := s.Else[0].(*ast.IfStmt)
	require.True(t, ok)
	assert.Len(t, nested.Then, 1)
	assert.Len(t, nested.Else, 1)
}

func Test_Parser_SingleLineIf(t *testing.T) {
	prog := parseCode(t, "IF X = 1 THEN PRINT \"a\" ELSE PRINT \"b\"\n")
	s := prog.Statements[0].(*ast.IfStmt)
	assert.Len(t, s.Then, 1)
	assert.Len(t, s.Else, 1)
}

func Test_Parser_ThenLineNumberIsImplicitGoto(t *testing.T) {
	prog := parseCode(t, "10 IF X = 1 THEN 100 ELSE 200\n")
	s := prog.Statements[0].(*ast.IfStmt)
	require.Len(t, s.Then, 1)
	require.Len(t, s.Else, 1)
	assert.Equal(t, 100, s.Then[0].(*ast.GotoStmt).TargetLine)
	assert.Equal(t, 200, s.Else[0].(*ast.GotoStmt).TargetLine)
}

func Test_Parser_SingleLineIfLeavesLoopCloser(t *testing.T) {
	code := "FOR J = 1 TO 5: IF J = 3 THEN EXIT FOR: NEXT J\n"
	prog := parseCode(t, code)
	require.Len(t, prog.Statements, 1)
	loop := prog.Statements[0].(*ast.ForStmt)
	require.Len(t, loop.Body, 1)
	cond := loop.Body[0].(*ast.IfStmt)
	require.Len(t, cond.Then, 1)
	_, isExit := cond.Then[0].(*ast.ExitStmt)
	assert.True(t, isExit)
}

// ============================================================================
// Loops
// ============================================================================

func Test_Parser_ForWithStep(t *testing.T) {
	prog := parseCode(t, "FOR I = 10 TO 1 STEP -1\nPRINT I\nNEXT I\n")
	s := prog.Statements[0].(*ast.ForStmt)
	assert.Equal(t, "I", s.Var)
	assert.NotNil(t, s.Step)
	assert.Len(t, s.Body, 1)
}

func Test_Parser_NextVariableMustMatch(t *testing.T) {
	_, diags := Parse("test", "FOR I = 1 TO 3\nNEXT J\n")
	assert.True(t, diags.HasErrors())
}

func Test_Parser_DoShapes(t *testing.T) {
	pre := parseCode(t, "DO WHILE X > 0\nLET X = X - 1\nLOOP\n").Statements[0].(*ast.DoStmt)
	require.NotNil(t, pre.Pre)
	assert.False(t, pre.Pre.Until)
	assert.Nil(t, pre.Post)

	preUntil := parseCode(t, "DO UNTIL X = 0\nLET X = X - 1\nLOOP\n").Statements[0].(*ast.DoStmt)
	require.NotNil(t, preUntil.Pre)
	assert.True(t, preUntil.Pre.Until)

	post := parseCode(t, "DO\nLET X = X - 1\nLOOP WHILE X > 0\n").Statements[0].(*ast.DoStmt)
	require.NotNil(t, post.Post)
	assert.False(t, post.Post.Until)

	postUntil := parseCode(t, "DO\nLET X = X - 1\nLOOP UNTIL X = 0\n").Statements[0].(*ast.DoStmt)
	require.NotNil(t, postUntil.Post)
	assert.True(t, postUntil.Post.Until)
}

func Test_Parser_RepeatUntil(t *testing.T) {
	prog := parseCode(t, "REPEAT\nLET X = X - 1\nUNTIL X = 0\n")
	s := prog.Statements[0].(*ast.RepeatStmt)
	assert.Len(t, s.Body, 1)
	assert.NotNil(t, s.Cond)
}

// ============================================================================
// SELECT CASE
// ============================================================================

func Test_Parser_SelectCaseArms(t *testing.T) {
	code := `
SELECT CASE X
CASE 1
  PRINT "a"
CASE 2 TO 5, 9
  PRINT "b"
CASE IS > 100
  PRINT "c"
CASE ELSE
  PRINT "d"
END SELECT
`
	prog := parseCode(t, code)
	s := prog.Statements[0].(*ast.SelectStmt)
	require.Len(t, s.Cases, 3)
	assert.NotNil(t, s.Default)

	assert.Equal(t, ast.CaseExact, s.Cases[0].Preds[0].Kind)
	require.Len(t, s.Cases[1].Preds, 2)
	assert.Equal(t, ast.CaseRange, s.Cases[1].Preds[0].Kind)
	assert.Equal(t, ast.CaseExact, s.Cases[1].Preds[1].Kind)
	assert.Equal(t, ast.CaseRel, s.Cases[2].Preds[0].Kind)
	assert.Equal(t, ">", s.Cases[2].Preds[0].Op)
}

// ============================================================================
// Jumps and subs
// ============================================================================

func Test_Parser_GotoGosubTargets(t *testing.T) {
	prog := parseCode(t, "10 GOTO 40\n20 GOSUB 40\n30 GOTO Finish\n40 RETURN\n")
	assert.Equal(t, 40, prog.Statements[0].(*ast.GotoStmt).TargetLine)
	assert.Equal(t, 40, prog.Statements[1].(*ast.GosubStmt).TargetLine)
	assert.Equal(t, "Finish", prog.Statements[2].(*ast.GotoStmt).TargetLabel)
}

func Test_Parser_OnGotoAndGosub(t *testing.T) {
	prog := parseCode(t, "ON X GOTO 10, 20, 30\nON X GOSUB 10, 20\n")
	g := prog.Statements[0].(*ast.OnGotoStmt)
	assert.False(t, g.IsGosub)
	assert.Equal(t, []int{10, 20, 30}, g.Targets)
	gs := prog.Statements[1].(*ast.OnGotoStmt)
	assert.True(t, gs.IsGosub)
	assert.Equal(t, []int{10, 20}, gs.Targets)
}

func Test_Parser_SubAndFunctionDecls(t *testing.T) {
	code := `
SUB Greet(Name$, Times%)
  PRINT Name$
END SUB
FUNCTION Area#(W#, H#)
  Area# = W# * H#
END FUNCTION
`
	prog := parseCode(t, code)
	sub := prog.Statements[0].(*ast.SubDecl)
	assert.Equal(t, "Greet", sub.Name)
	require.Len(t, sub.Params, 2)
	assert.Equal(t, "Name$", sub.Params[0].Name)

	fn := prog.Statements[1].(*ast.FunctionDecl)
	assert.Equal(t, "Area#", fn.Name)
	assert.Len(t, fn.Params, 2)
	assert.Len(t, fn.Body, 1)
}

func Test_Parser_ExitKinds(t *testing.T) {
	code := "FOR I = 1 TO 2\nEXIT FOR\nNEXT I\nWHILE 1\nEXIT WHILE\nWEND\n"
	prog := parseCode(t, code)
	loop := prog.Statements[0].(*ast.ForStmt)
	assert.Equal(t, ast.ExitFor, loop.Body[0].(*ast.ExitStmt).Kind)
	wh := prog.Statements[1].(*ast.WhileStmt)
	assert.Equal(t, ast.ExitWhile, wh.Body[0].(*ast.ExitStmt).Kind)
}

func Test_Parser_LabelStatement(t *testing.T) {
	prog := parseCode(t, "Start:\nPRINT 1\nGOTO Start\n")
	lbl, ok := prog.Statements[0].(*ast.LabelStmt)
	require.True(t, ok)
	assert.Equal(t, "Start", lbl.Name)
}

// ============================================================================
// Declarations
// ============================================================================

func Test_Parser_DimForms(t *testing.T) {
	prog := parseCode(t, "DIM A(10), B(3, 4), X AS LONG\n")
	d := prog.Statements[0].(*ast.DimStmt)
	require.Len(t, d.Arrays, 3)
	assert.Len(t, d.Arrays[0].Bounds, 1)
	assert.Len(t, d.Arrays[1].Bounds, 2)
	assert.Empty(t, d.Arrays[2].Bounds)
	assert.Equal(t, "LONG", d.Arrays[2].TypeName)
}

func Test_Parser_RedimPreserve(t *testing.T) {
	prog := parseCode(t, "REDIM PRESERVE A(20)\n")
	r := prog.Statements[0].(*ast.RedimStmt)
	assert.True(t, r.Preserve)
	require.Len(t, r.Arrays, 1)
}

func Test_Parser_TypeDecl(t *testing.T) {
	code := `
TYPE Point
  X AS DOUBLE
  Y AS DOUBLE
END TYPE
`
	prog := parseCode(t, code)
	d := prog.Statements[0].(*ast.TypeDecl)
	assert.Equal(t, "Point", d.Name)
	require.Len(t, d.Fields, 2)
	assert.Equal(t, "DOUBLE", d.Fields[0].Type)
}

// ============================================================================
// Expressions
// ============================================================================

func Test_Parser_OperatorPrecedence(t *testing.T) {
	prog := parseCode(t, "LET X = 1 + 2 * 3\n")
	let := prog.Statements[0].(*ast.LetStmt)
	top := let.Value.(*ast.BinaryExpr)
	assert.Equal(t, "+", top.Op)
	rhs := top.Right.(*ast.BinaryExpr)
	assert.Equal(t, "*", rhs.Op)
}

func Test_Parser_ComparisonBindsLooserThanArithmetic(t *testing.T) {
	prog := parseCode(t, "LET X = A + 1 > B\n")
	let := prog.Statements[0].(*ast.LetStmt)
	top := let.Value.(*ast.BinaryExpr)
	assert.Equal(t, ">", top.Op)
}

func Test_Parser_IIfExpression(t *testing.T) {
	prog := parseCode(t, "LET X = IIF(A > 0, 1, 2)\n")
	let := prog.Statements[0].(*ast.LetStmt)
	_, ok := let.Value.(*ast.IIfExpr)
	assert.True(t, ok)
}

func Test_Parser_CallAndIndexAreDisambiguatedLater(t *testing.T) {
	prog := parseCode(t, "LET X = A(3)\n")
	let := prog.Statements[0].(*ast.LetStmt)
	call, ok := let.Value.(*ast.CallExpr)
	require.True(t, ok, "parser leaves array-vs-call to semantic analysis")
	assert.Equal(t, "A", call.Name)
}

func Test_Parser_PowerIsRightAssociative(t *testing.T) {
	prog := parseCode(t, "LET X = 2 ^ 3 ^ 2\n")
	let := prog.Statements[0].(*ast.LetStmt)
	top := let.Value.(*ast.BinaryExpr)
	require.Equal(t, "^", top.Op)
	rhs, ok := top.Right.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "^", rhs.Op)
}
