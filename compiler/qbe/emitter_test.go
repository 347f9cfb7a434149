package qbe

import (
	"strings"
	"testing"

	"fbcqbe/compiler/cfg"
	"fbcqbe/compiler/parser"
	"fbcqbe/compiler/sem"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to run the front end, build the CFGs and emit the full program
func emitFromCode(t *testing.T, code string, opts Options) string {
	t.Helper()
	prog, parseDiags := parser.Parse("test", code)
	require.False(t, parseDiags.HasErrors(), "parse: %v", parseDiags)
	analysis, semDiags := sem.Analyze(prog)
	require.False(t, semDiags.HasErrors(), "sem: %v", semDiags)
	pcfg, cfgDiags := cfg.BuildProgram(prog, analysis)
	require.False(t, cfgDiags.HasErrors(), "cfg: %v", cfgDiags)

	ir, emitDiags := EmitProgram(pcfg, "test", opts)
	require.False(t, emitDiags.HasErrors(), "emit: %v", emitDiags)
	return ir
}

// ============================================================================
// Basic emission
// ============================================================================

func Test_Emit_EmptyProgram(t *testing.T) {
	ir := emitFromCode(t, "", Options{})

	assert.Contains(t, ir, "export function w $main()")
	assert.Contains(t, ir, "ret 0")
	assert.Contains(t, ir, "data $gosub_return_stack")
	assert.Contains(t, ir, "data $gosub_return_sp = { w 0 }")
}

func Test_Emit_Idempotent(t *testing.T) {
	code := `
10 LET X = 1
20 IF X = 1 THEN
30   GOSUB 100
40 END IF
50 FOR I = 1 TO 3
60   PRINT I
70 NEXT I
80 END
100 PRINT "S"
110 RETURN
`
	first := emitFromCode(t, code, Options{})
	second := emitFromCode(t, code, Options{})
	assert.Equal(t, first, second, "emission must be byte-for-byte deterministic")
}

func Test_Emit_StraightLineAssignment(t *testing.T) {
	ir := emitFromCode(t, "LET X% = 4\nLET Y% = X% + 1\n", Options{})

	assert.Contains(t, ir, "%v_X_i =l alloc4 4")
	assert.Contains(t, ir, "storew 0, %v_X_i")
	assert.Contains(t, ir, "storew 4, %v_X_i")
	assert.Contains(t, ir, "add")
}

// ============================================================================
// FOR loops
// ============================================================================

func Test_Emit_ForAllocatesTripleOnce(t *testing.T) {
	code := `
FOR I = 1 TO 10
  PRINT I
NEXT I
`
	ir := emitFromCode(t, code, Options{})

	assert.Equal(t, 1, strings.Count(ir, ".limit =l alloc8"), "one limit slot per FOR")
	assert.Equal(t, 1, strings.Count(ir, ".step =l alloc8"), "one step slot per FOR")
	assert.Contains(t, ir, "for.increment")
	assert.Contains(t, ir, "for.exit")
}

func Test_Emit_ForPredicateHandlesBothDirections(t *testing.T) {
	code := `
FOR I = 10 TO 1 STEP -1
  PRINT I
NEXT I
`
	ir := emitFromCode(t, code, Options{})

	// (step >= 0 and var <= limit) or (step < 0 and var >= limit)
	assert.Contains(t, ir, "cged")
	assert.Contains(t, ir, "cled")
	assert.Contains(t, ir, "cltd")
	assert.GreaterOrEqual(t, strings.Count(ir, "and"), 2)
	assert.Contains(t, ir, "or")
}

func Test_Emit_NestedForTriplesAreDistinct(t *testing.T) {
	code := `
FOR I = 1 TO 3
  FOR J = 1 TO 3
    PRINT I * J
  NEXT J
NEXT I
`
	ir := emitFromCode(t, code, Options{})
	assert.Equal(t, 2, strings.Count(ir, ".limit =l alloc8"))
	assert.Equal(t, 2, strings.Count(ir, ".step =l alloc8"))
}

// ============================================================================
// GOSUB / RETURN
// ============================================================================

func Test_Emit_GosubPushesContinuationAndJumps(t *testing.T) {
	code := `
10 GOSUB 100
20 END
100 PRINT "S"
110 RETURN
`
	ir := emitFromCode(t, code, Options{})

	// push onto the runtime stack, then a static jump to the entry
	assert.Contains(t, ir, "loadw $gosub_return_sp")
	assert.Contains(t, ir, "$gosub_return_stack")
	assert.Contains(t, ir, "storew %")
	pushIdx := strings.Index(ir, "$gosub_return_stack")
	jmpIdx := strings.Index(ir, "jmp @b")
	assert.Greater(t, jmpIdx, -1)
	assert.Greater(t, pushIdx, -1)
}

func Test_Emit_ReturnDispatchIsSparse(t *testing.T) {
	code := `
10 GOSUB 100
20 GOSUB 100
30 END
100 PRINT "S"
110 RETURN
`
	ir := emitFromCode(t, code, Options{})

	// dispatch compares against the two registered continuations only
	dispatch := ir[strings.Index(ir, "rt_return_underflow"):]
	assert.Equal(t, 2, strings.Count(dispatch, "ceqw"),
		"RETURN dispatch is restricted to gosub continuation ids")
	assert.Contains(t, ir, "call $rt_return_underflow()")
}

func Test_Emit_OnGosubOutOfRangeFallsThrough(t *testing.T) {
	code := `
10 ON 3 GOSUB 100, 200
20 PRINT "after"
30 END
100 RETURN
200 RETURN
`
	ir := emitFromCode(t, code, Options{})

	// two guarded pushes, then the unconditional fallthrough jump
	assert.GreaterOrEqual(t, strings.Count(ir, "ceqw"), 2)
	assert.Contains(t, ir, "on.gosub.ret")
}

// ============================================================================
// Strings
// ============================================================================

func Test_Emit_StringAssignmentFollowsRetainReleaseProtocol(t *testing.T) {
	ir := emitFromCode(t, "LET A$ = \"X\"\n", Options{})

	retain := strings.Index(ir, "call $string_retain")
	release := strings.Index(ir, "call $string_release")
	require.Greater(t, retain, -1)
	require.Greater(t, release, -1)
	assert.Less(t, retain, release, "retain the new value before releasing the old")
	between := ir[retain:release]
	assert.Contains(t, between, "storel", "the store happens between retain and release")
}

func Test_Emit_StringConcatCallsRuntime(t *testing.T) {
	ir := emitFromCode(t, "LET A$ = \"X\" + \"Y\"\n", Options{})
	assert.Contains(t, ir, "call $string_concat(l")
}

func Test_Emit_StringPoolIsInterned(t *testing.T) {
	ir := emitFromCode(t, "PRINT \"hi\"\nPRINT \"hi\"\n", Options{})
	assert.Equal(t, 1, strings.Count(ir, "data $str.0"))
	assert.NotContains(t, ir, "$str.1")
}

func Test_Emit_LocalStringsReleasedOnReturn(t *testing.T) {
	code := `
SUB Shout(M$)
  LET T$ = M$ + "!"
  PRINT T$
END SUB
`
	ir := emitFromCode(t, code, Options{})
	sub := ir[strings.Index(ir, "$fn_SHOUT"):]
	// both the parameter and the local release before ret
	assert.GreaterOrEqual(t, strings.Count(sub, "call $string_release"), 2)
}

// ============================================================================
// PRINT
// ============================================================================

func Test_Emit_PrintSeparators(t *testing.T) {
	ir := emitFromCode(t, "PRINT 1, 2\n", Options{})
	assert.Equal(t, 1, strings.Count(ir, "call $print_tab()"))
	assert.Contains(t, ir, "call $print_newline()")

	ir = emitFromCode(t, "PRINT 1;\n", Options{})
	assert.NotContains(t, ir, "call $print_newline()")
}

func Test_Emit_PrintDispatchesOnStaticType(t *testing.T) {
	ir := emitFromCode(t, "PRINT 1\nPRINT 1.5\nPRINT \"s\"\n", Options{})
	assert.Contains(t, ir, "call $print_int(w")
	assert.Contains(t, ir, "call $print_double(d")
	assert.Contains(t, ir, "call $print_string(l")
}

// ============================================================================
// Arrays
// ============================================================================

func Test_Emit_ArrayStoreIsBoundsChecked(t *testing.T) {
	code := `
DIM A(10)
LET A(3) = 7
PRINT A(3)
`
	ir := emitFromCode(t, code, Options{})
	assert.Contains(t, ir, "call $array_new(w")
	assert.GreaterOrEqual(t, strings.Count(ir, "call $array_get_address(l"), 2)
}

func Test_Emit_RedimClearKnob(t *testing.T) {
	code := `
DIM A(2)
REDIM A(4)
`
	clearing := emitFromCode(t, code, Options{RedimClears: true})
	keeping := emitFromCode(t, code, Options{RedimClears: false})

	assert.Contains(t, clearing, "call $array_redim(l")
	assert.Contains(t, keeping, "call $array_redim(l")
	assert.NotEqual(t, clearing, keeping, "the knob must reach the emitted call")
}

func Test_Emit_RedimPreserveNeverClears(t *testing.T) {
	code := `
DIM A(2)
REDIM PRESERVE A(4)
`
	clearing := emitFromCode(t, code, Options{RedimClears: true})
	keeping := emitFromCode(t, code, Options{RedimClears: false})
	assert.Equal(t, clearing, keeping, "PRESERVE is unaffected by the clear knob")
}

// ============================================================================
// DATA / READ
// ============================================================================

func Test_Emit_DataPoolIsTagged(t *testing.T) {
	code := `
10 DATA 10, 20, "X"
20 READ A
30 READ B$
`
	ir := emitFromCode(t, code, Options{})
	assert.Contains(t, ir, "data $data_pool = {")
	assert.Contains(t, ir, "w 10, w 0, d d_10")
	assert.Contains(t, ir, "w 10, w 0, d d_20")
	assert.Contains(t, ir, "w 10, w 1, l $str.")
	assert.Contains(t, ir, "data $data_pool_count = { w 3 }")
	assert.Contains(t, ir, "call $read_data_number()")
	assert.Contains(t, ir, "call $read_data_string()")
}

func Test_Emit_RestoreTargetsLine(t *testing.T) {
	ir := emitFromCode(t, "10 DATA 1\n20 READ A\n30 RESTORE 10\n", Options{})
	assert.Contains(t, ir, "call $restore_data(w 10)")
}

// ============================================================================
// SELECT / ON dispatch
// ============================================================================

func Test_Emit_SelectLowersToComparisonChain(t *testing.T) {
	code := `
LET X = 2
SELECT CASE X
CASE 1
  PRINT "one"
CASE 2 TO 5
  PRINT "few"
CASE ELSE
  PRINT "many"
END SELECT
`
	ir := emitFromCode(t, code, Options{})
	assert.Contains(t, ir, "select.otherwise")
	assert.Contains(t, ir, "select.merge")
	// range arm needs two bound checks on the promoted selector type
	assert.GreaterOrEqual(t, strings.Count(ir, "cled"), 2)
}

func Test_Emit_OnGotoFallsThroughWhenOutOfRange(t *testing.T) {
	code := `
10 ON 9 GOTO 100, 200
20 PRINT "after"
30 END
100 END
200 END
`
	ir := emitFromCode(t, code, Options{})
	assert.GreaterOrEqual(t, strings.Count(ir, "ceqw"), 2)
	assert.Contains(t, ir, "on.next")
}

// ============================================================================
// SUB / FUNCTION
// ============================================================================

func Test_Emit_FunctionHeaderAndCall(t *testing.T) {
	code := `
FUNCTION Twice#(N#)
  Twice# = N# * 2
END FUNCTION
LET R# = Twice#(21)
PRINT R#
`
	ir := emitFromCode(t, code, Options{})
	assert.Contains(t, ir, "export function d $fn_TWICE_d(d %p_N_d)")
	assert.Contains(t, ir, "call $fn_TWICE_d(d")
}

func Test_Emit_SubHasNoReturnType(t *testing.T) {
	code := `
SUB Hello()
  PRINT "hi"
END SUB
CALL Hello()
`
	ir := emitFromCode(t, code, Options{})
	assert.Contains(t, ir, "export function $fn_HELLO()")
	assert.Contains(t, ir, "call $fn_HELLO()")
}

func Test_Emit_FloatParametersWidenToDouble(t *testing.T) {
	code := `
SUB Show(V!)
  PRINT V!
END SUB
CALL Show(1.5)
`
	ir := emitFromCode(t, code, Options{})
	assert.Contains(t, ir, "export function $fn_SHOW(d %p_V_f)")
	// the d parameter narrows into the s slot
	assert.Contains(t, ir, "=s truncd %p_V_f")
}

// ============================================================================
// Globals
// ============================================================================

func Test_Emit_GlobalsLiveInDataSection(t *testing.T) {
	code := `
GLOBAL Counter
LET Counter = 1
SUB Bump()
  SHARED Counter
  LET Counter = Counter + 1
END SUB
CALL Bump()
`
	ir := emitFromCode(t, code, Options{})
	assert.Contains(t, ir, "data $g_COUNTER")
	assert.Contains(t, ir, "$g_COUNTER")
	assert.NotContains(t, ir, "%v_COUNTER =l alloc")
}

// ============================================================================
// Intrinsics and robustness
// ============================================================================

func Test_Emit_IntrinsicsRouteToRuntime(t *testing.T) {
	ir := emitFromCode(t, "PRINT LEN(\"abc\")\nPRINT SQR(2)\nPRINT CHR$(65)\n", Options{})
	assert.Contains(t, ir, "call $basic_len(l")
	assert.Contains(t, ir, "call $sqrt(d")
	assert.Contains(t, ir, "call $basic_chr(w")
}

func Test_Emit_UnknownIntrinsicEmitsMarker(t *testing.T) {
	prog, _ := parser.Parse("test", "PRINT WOBBLE(1)\n")
	analysis, _ := sem.Analyze(prog)
	pcfg, _ := cfg.BuildProgram(prog, analysis)
	ir, diags := EmitProgram(pcfg, "test", Options{})

	assert.Contains(t, ir, "# unknown intrinsic WOBBLE")
	assert.False(t, diags.HasErrors(), "unknown intrinsics are non-fatal")
	assert.NotEmpty(t, diags)
}

func Test_Emit_UnreachableBlocksAreStillEmitted(t *testing.T) {
	code := `
10 GOTO 40
20 REM dead code below
30 PRINT "dead"
40 END
`
	ir := emitFromCode(t, code, Options{})
	// the dead PRINT still has a block in the output
	assert.Contains(t, ir, "$str.0")
	assert.Contains(t, ir, "print_string")
}
