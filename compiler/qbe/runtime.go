package qbe

// ============================================================================
// Runtime ABI
// ============================================================================
//
// The generated IR calls a fixed set of runtime entry points. Floating
// point crosses the boundary at 64-bit width (type d) regardless of the
// declared source type; strings are refcounted handles of type l; array
// descriptors are opaque l pointers.

const (
	// console I/O
	rtPrintInt     = "print_int"     // (w)
	rtPrintLong    = "print_long"    // (l)
	rtPrintDouble  = "print_double"  // (d)
	rtPrintString  = "print_string"  // (l)
	rtPrintTab     = "print_tab"     // ()
	rtPrintNewline = "print_newline" // ()
	rtInputInt     = "input_int"     // () -> w
	rtInputLong    = "input_long"    // () -> l
	rtInputDouble  = "input_double"  // () -> d
	rtInputString  = "input_string"  // () -> l, borrowed

	// string protocol
	rtStringRetain  = "string_retain"  // (l)
	rtStringRelease = "string_release" // (l)
	rtStringConcat  = "string_concat"  // (l, l) -> l, borrowed
	rtStringCompare = "string_compare" // (l, l) -> w, <0/0/>0

	// array lifecycle; bounds are inclusive upper bounds per dimension
	rtArrayNew        = "array_new"         // (w suffix, w dims, w b1, w b2, w base) -> l
	rtArrayRedim      = "array_redim"       // (l desc, w preserve, w clear, w dims, w b1, w b2) -> l
	rtArrayErase      = "array_erase"       // (l desc)
	rtArrayGetAddress = "array_get_address" // (l desc, w i1, w i2) -> l, bounds-checked

	// DATA pool protocol
	rtReadDataNumber = "read_data_number" // () -> d, aborts on exhaustion/mismatch
	rtReadDataString = "read_data_string" // () -> l, borrowed
	rtRestoreData    = "restore_data"     // (w line), 0 rewinds to the first entry

	// math
	rtPow = "pow" // (d, d) -> d
	rtRnd = "rnd" // () -> d

	// error termination
	rtAbort           = "rt_abort"            // (w code), no return
	rtReturnUnderflow = "rt_return_underflow" // (), no return
)

// intrinsic describes one built-in function: its runtime symbol, the
// argument kinds it expects and the kind it returns. Kinds use the
// types package codes via small helpers in expr.go.
type intrinsic struct {
	symbol string
	args   string // one code per arg: d=double, s=string, w=int
	ret    byte   // d, s, w, l
}

// intrinsics maps the canonical (sigil-tagged) source name to its runtime
// binding. Unknown names emit a marker comment and a zero value.
var intrinsics = map[string]intrinsic{
	"LEN":      {"basic_len", "s", 'w'},
	"ASC":      {"basic_asc", "s", 'w'},
	"VAL":      {"basic_val", "s", 'd'},
	"INSTR":    {"basic_instr", "ss", 'w'},
	"ABS":      {"basic_abs", "d", 'd'},
	"SGN":      {"basic_sgn", "d", 'w'},
	"INT":      {"basic_int", "d", 'd'},
	"SQR":      {"sqrt", "d", 'd'},
	"SIN":      {"sin", "d", 'd'},
	"COS":      {"cos", "d", 'd'},
	"TAN":      {"tan", "d", 'd'},
	"ATN":      {"atan", "d", 'd'},
	"EXP":      {"exp", "d", 'd'},
	"LOG":      {"log", "d", 'd'},
	"RND":      {rtRnd, "", 'd'},
	"CHR_s":    {"basic_chr", "w", 's'},
	"STR_s":    {"basic_str", "d", 's'},
	"MID_s":    {"basic_mid", "sww", 's'},
	"LEFT_s":   {"basic_left", "sw", 's'},
	"RIGHT_s":  {"basic_right", "sw", 's'},
	"SPACE_s":  {"basic_space", "w", 's'},
	"STRING_s": {"basic_string", "ws", 's'},
	"UCASE_s":  {"basic_ucase", "s", 's'},
	"LCASE_s":  {"basic_lcase", "s", 's'},
}
