package compiler

import (
	"github.com/owenrumney/go-sarif/v2/sarif"
)

// ExportSarif serializes the diagnostic list as a SARIF 2.1.0 report so
// that editors and CI annotate the offending source lines.
func ExportSarif(diags Diagnostics) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, err
	}
	run := sarif.NewRunWithInformationURI("fbcqbe", "https://github.com/albanread/fbcqbe")

	seen := make(map[string]bool)
	for _, d := range diags {
		ruleID := d.Phase.String()
		if !seen[ruleID] {
			seen[ruleID] = true
			run.AddRule(ruleID).
				WithDescription("diagnostics reported by the " + ruleID + " phase")
		}

		level := "error"
		switch d.Severity {
		case SeverityWarning:
			level = "warning"
		case SeverityNote:
			level = "note"
		}

		// the BASIC line number is the coordinate users navigate by
		line := d.BasicLine
		if line < 1 {
			line = d.Location.Line
		}
		if line < 1 {
			line = 1
		}
		location := sarif.NewLocation().
			WithPhysicalLocation(
				sarif.NewPhysicalLocation().
					WithArtifactLocation(sarif.NewArtifactLocation().WithUri(d.Source)).
					WithRegion(sarif.NewRegion().WithStartLine(line)),
			)

		run.CreateResultForRule(ruleID).
			WithLevel(level).
			WithMessage(sarif.NewTextMessage(d.Message)).
			AddLocation(location)
	}

	report.AddRun(run)
	return report, nil
}
