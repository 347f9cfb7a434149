package compiler

import (
	"fmt"
	"strings"
)

// ============================================================================
// Diagnostics
// ============================================================================
//
// A compiled program lives in two coordinate systems: the physical text
// position the tokenizer tracks, and the BASIC line number the programmer
// wrote and jumps by. A Diagnostic carries both; when the BASIC line is
// known it wins the human-readable rendering, since that is the number
// the user can actually find in their listing.

// Location is a physical position in the source text.
type Location struct {
	Line   int // physical text line
	Column int // column on line
}

var LocationZero = Location{}

type PipelinePhase uint8

const (
	PipelineInternal PipelinePhase = iota
	PipelineTokenizer
	PipelineParser
	PipelineSemanticAnalysis
	PipelineControlFlowGraph
	PipelineEmission
)

func (p PipelinePhase) String() string {
	switch p {
	case PipelineTokenizer:
		return "tokenizer"
	case PipelineParser:
		return "parser"
	case PipelineSemanticAnalysis:
		return "semantic"
	case PipelineControlFlowGraph:
		return "cfg"
	case PipelineEmission:
		return "emit"
	default:
		return "internal"
	}
}

type DiagnosticSeverity uint8

const (
	SeverityError   DiagnosticSeverity = iota // compilation fails
	SeverityWarning                           // compilation continues
	SeverityNote                              // informational
)

func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}

// Diagnostic is one finding from one pipeline stage.
type Diagnostic struct {
	Source    string
	Phase     PipelinePhase
	Severity  DiagnosticSeverity
	Message   string
	Location  Location
	BasicLine int // BASIC line number of the offending statement, 0 unknown
}

func (d *Diagnostic) Error() string {
	if d.BasicLine > 0 {
		return fmt.Sprintf("%s: line %d: %s: %s", d.Source, d.BasicLine, d.Phase, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.Source, d.Location.Line, d.Location.Column, d.Phase, d.Message)
}

// Diagnostics is what a pipeline stage hands back to the driver.
type Diagnostics []*Diagnostic

// HasErrors reports whether the list contains a compilation-failing entry.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (ds Diagnostics) String() string {
	var sb strings.Builder
	for i, d := range ds {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Severity.String())
		sb.WriteString(": ")
		sb.WriteString(d.Error())
	}
	return sb.String()
}

// Reporter accumulates the diagnostics of one stage; each stage owns one
// and every finding inherits the stage's source name and phase.
type Reporter struct {
	source string
	phase  PipelinePhase
	list   Diagnostics
}

func NewReporter(source string, phase PipelinePhase) *Reporter {
	return &Reporter{source: source, phase: phase}
}

func (r *Reporter) add(severity DiagnosticSeverity, basicLine int, loc Location, format string, args []interface{}) {
	r.list = append(r.list, &Diagnostic{
		Source:    r.source,
		Phase:     r.phase,
		Severity:  severity,
		Message:   fmt.Sprintf(format, args...),
		Location:  loc,
		BasicLine: basicLine,
	})
}

// Errorf records a fatal finding at a physical position.
func (r *Reporter) Errorf(loc Location, format string, args ...interface{}) {
	r.add(SeverityError, 0, loc, format, args)
}

// ErrorAtLine records a fatal finding attributed to a BASIC line.
func (r *Reporter) ErrorAtLine(basicLine int, loc Location, format string, args ...interface{}) {
	r.add(SeverityError, basicLine, loc, format, args)
}

// Warnf records a non-fatal finding.
func (r *Reporter) Warnf(loc Location, format string, args ...interface{}) {
	r.add(SeverityWarning, 0, loc, format, args)
}

// List returns everything reported so far.
func (r *Reporter) List() Diagnostics {
	return r.list
}

// HasErrors reports whether the stage has failed.
func (r *Reporter) HasErrors() bool {
	return r.list.HasErrors()
}
