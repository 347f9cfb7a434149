package compile

import (
	"fmt"
	"os"

	"fbcqbe/compiler"
	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/cfg"
	"fbcqbe/compiler/parser"
	"fbcqbe/compiler/qbe"
	"fbcqbe/compiler/sem"
)

// CompilationResult contains the output of the compilation pipeline
type CompilationResult struct {
	// Source information
	SourceFile string

	// Intermediate representations
	Program  *ast.Program
	Analysis *sem.Analysis
	CFGs     *cfg.ProgramCFG
	IR       string

	// Diagnostics from every stage, in stage order
	Diagnostics compiler.Diagnostics

	// Success flag
	Success bool
}

// PipelineOptions configures the compilation pipeline
type PipelineOptions struct {
	// Source input
	SourceFile string
	SourceCode string

	// Pipeline control flags
	StopAfterParse    bool
	StopAfterSemantic bool
	StopAfterCFG      bool

	// VerifyCFG runs the structural invariant checker on every graph
	VerifyCFG bool

	// Emitter knobs
	Emit qbe.Options

	// Debug output
	DumpAST bool
	DumpCFG bool
	Verbose bool
}

// DefaultPipelineOptions returns default pipeline options
func DefaultPipelineOptions() *PipelineOptions {
	return &PipelineOptions{
		VerifyCFG: false,
		Emit:      qbe.Options{RedimClears: true},
	}
}

// Pipeline runs the complete compilation pipeline
func Pipeline(opts *PipelineOptions) (*CompilationResult, error) {
	result := &CompilationResult{
		SourceFile: opts.SourceFile,
	}

	source := opts.SourceFile
	code := opts.SourceCode
	if code == "" {
		if source == "" {
			return result, fmt.Errorf("no source provided")
		}
		raw, err := os.ReadFile(source)
		if err != nil {
			return result, fmt.Errorf("failed to open source file: %w", err)
		}
		code = string(raw)
	}
	if source == "" {
		source = "<string>"
	}

	// ==========================================================================
	// Stage 1: Lexing and Parsing
	// ==========================================================================
	if opts.Verbose {
		fmt.Println("==> Stage 1: Lexing and Parsing")
	}

	prog, parseDiags := parser.Parse(source, code)
	result.Program = prog
	result.Diagnostics = append(result.Diagnostics, parseDiags...)
	if parseDiags.HasErrors() {
		return result, fmt.Errorf("parsing failed with %d errors", len(parseDiags))
	}

	if opts.DumpAST {
		dumpAST(prog)
	}
	if opts.StopAfterParse {
		result.Success = true
		return result, nil
	}

	// ==========================================================================
	// Stage 2: Semantic Analysis
	// ==========================================================================
	if opts.Verbose {
		fmt.Println("==> Stage 2: Semantic Analysis")
	}

	analysis, semDiags := sem.Analyze(prog)
	result.Analysis = analysis
	result.Diagnostics = append(result.Diagnostics, semDiags...)
	if semDiags.HasErrors() {
		return result, fmt.Errorf("semantic analysis failed with %d errors", len(semDiags))
	}

	if opts.StopAfterSemantic {
		result.Success = true
		return result, nil
	}

	// ==========================================================================
	// Stage 3: Control Flow Graph Construction
	// ==========================================================================
	if opts.Verbose {
		fmt.Println("==> Stage 3: Control Flow Graph Construction")
	}

	pcfg, cfgDiags := cfg.BuildProgram(prog, analysis)
	result.CFGs = pcfg
	result.Diagnostics = append(result.Diagnostics, cfgDiags...)
	if cfgDiags.HasErrors() {
		return result, fmt.Errorf("CFG construction failed with %d errors", len(cfgDiags))
	}

	if opts.Verbose {
		fmt.Printf("  Built CFG for main with %d blocks\n", len(pcfg.Main.Blocks))
		for _, name := range pcfg.FunctionNames() {
			fmt.Printf("  Built CFG for '%s' with %d blocks\n", name, len(pcfg.Functions[name].Blocks))
		}
	}

	if opts.VerifyCFG {
		if err := verifyAll(pcfg); err != nil {
			return result, err
		}
	}

	if opts.DumpCFG {
		fmt.Print(pcfg.Main.String())
		for _, name := range pcfg.FunctionNames() {
			fmt.Print(pcfg.Functions[name].String())
		}
	}
	if opts.StopAfterCFG {
		result.Success = true
		return result, nil
	}

	// ==========================================================================
	// Stage 4: IR Emission
	// ==========================================================================
	if opts.Verbose {
		fmt.Println("==> Stage 4: IR Emission")
	}

	ir, emitDiags := qbe.EmitProgram(pcfg, source, opts.Emit)
	result.IR = ir
	result.Diagnostics = append(result.Diagnostics, emitDiags...)
	if emitDiags.HasErrors() {
		return result, fmt.Errorf("emission failed with %d errors", len(emitDiags))
	}

	result.Success = true
	return result, nil
}

func verifyAll(pcfg *cfg.ProgramCFG) error {
	if errs := cfg.Verify(pcfg.Main); len(errs) > 0 {
		return fmt.Errorf("CFG invariant violated in main: %v", errs[0])
	}
	for _, name := range pcfg.FunctionNames() {
		if errs := cfg.Verify(pcfg.Functions[name]); len(errs) > 0 {
			return fmt.Errorf("CFG invariant violated in %s: %v", name, errs[0])
		}
	}
	return nil
}

// =============================================================================
// Debug Dump Functions
// =============================================================================

func dumpAST(prog *ast.Program) {
	fmt.Println("========== AST ==========")
	fmt.Printf("Program with %d top-level statements\n", len(prog.Statements))
	for i, stmt := range prog.Statements {
		fmt.Printf("  [%d] line %d %T\n", i, stmt.Line(), stmt)
	}
	fmt.Println()
}
