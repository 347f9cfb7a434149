package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fbcqbe/compile"
	"fbcqbe/compiler"
)

var (
	outputPath string
	configPath string
	sarifPath  string
	dumpAST    bool
	dumpCFG    bool
	stopAfter  string
	verifyCFG  bool
	verbose    bool
	noClear    bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <source.bas>",
	Short: "Compile a BASIC source file to QBE IR",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVarP(&outputPath, "output", "o", "", "IR output file (default: stdout)")
	compileCmd.Flags().StringVar(&configPath, "config", "", "yaml configuration file")
	compileCmd.Flags().StringVar(&sarifPath, "sarif", "", "write diagnostics as SARIF to this file")
	compileCmd.Flags().BoolVar(&dumpAST, "dump-ast", false, "dump the parsed AST")
	compileCmd.Flags().BoolVar(&dumpCFG, "dump-cfg", false, "dump the control flow graphs")
	compileCmd.Flags().StringVar(&stopAfter, "stop-after", "", "stop after a stage: parse, semantic, cfg")
	compileCmd.Flags().BoolVar(&verifyCFG, "verify-cfg", false, "check CFG invariants after construction")
	compileCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "trace pipeline stages")
	compileCmd.Flags().BoolVar(&noClear, "redim-keeps-contents", false, "REDIM without PRESERVE leaves storage undefined")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	opts := compile.DefaultPipelineOptions()
	opts.SourceFile = args[0]
	opts.DumpAST = dumpAST
	opts.DumpCFG = dumpCFG
	opts.VerifyCFG = verifyCFG
	opts.Verbose = verbose
	switch stopAfter {
	case "":
	case "parse":
		opts.StopAfterParse = true
	case "semantic":
		opts.StopAfterSemantic = true
	case "cfg":
		opts.StopAfterCFG = true
	default:
		return fmt.Errorf("unknown stage %q", stopAfter)
	}

	fileCfg, err := compile.LoadConfig(configPath)
	if err != nil {
		return err
	}
	fileCfg.Apply(opts)
	if noClear {
		opts.Emit.RedimClears = false
	}

	result, pipelineErr := compile.Pipeline(opts)
	printDiagnostics(result.Diagnostics)
	if sarifPath != "" {
		if err := writeSarif(sarifPath, result.Diagnostics); err != nil {
			return err
		}
	}
	if pipelineErr != nil {
		return pipelineErr
	}

	// the IR file is produced only on full success
	if result.IR != "" {
		if outputPath == "" {
			fmt.Print(result.IR)
		} else if err := os.WriteFile(outputPath, []byte(result.IR), 0o644); err != nil {
			return fmt.Errorf("failed to write IR: %w", err)
		}
	}
	return nil
}

func printDiagnostics(diags compiler.Diagnostics) {
	paints := map[compiler.DiagnosticSeverity]*color.Color{
		compiler.SeverityError:   color.New(color.FgRed, color.Bold),
		compiler.SeverityWarning: color.New(color.FgYellow),
		compiler.SeverityNote:    color.New(color.FgCyan),
	}
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "%s: %s\n", paints[d.Severity].Sprint(d.Severity), d.Error())
	}
}

func writeSarif(path string, diags compiler.Diagnostics) error {
	report, err := compiler.ExportSarif(diags)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
