// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fnichol/iocage-provision/internal/app/provision"
	"github.com/fnichol/iocage-provision/internal/executor"
	"github.com/fnichol/iocage-provision/internal/jail"
	"github.com/fnichol/iocage-provision/internal/plan"
)

type (
	// planDocument is the --dry-run output.
	planDocument struct {
		DryRun bool         `yaml:"dry_run"`
		Jail   jail.Summary `yaml:"jail"`
		Plan   *plan.Plan   `yaml:"plan"`
	}

	// resultDocument is the --output yaml report of a run.
	resultDocument struct {
		RunID   string         `yaml:"run_id"`
		State   string         `yaml:"state"`
		Jail    *jail.Summary  `yaml:"jail,omitempty"`
		Steps   []stepReport   `yaml:"steps"`
		Failure *failureReport `yaml:"failure,omitempty"`
		Cleanup *stepReport    `yaml:"cleanup,omitempty"`
	}

	stepReport struct {
		Index       int     `yaml:"index,omitempty"`
		Kind        string  `yaml:"kind"`
		Description string  `yaml:"description"`
		Status      string  `yaml:"status"`
		ExitStatus  int     `yaml:"exit_status"`
		Seconds     float64 `yaml:"seconds"`
	}

	failureReport struct {
		Class   string `yaml:"class"`
		Stage   string `yaml:"stage"`
		Step    int    `yaml:"step,omitempty"`
		Message string `yaml:"message"`
		Stderr  string `yaml:"stderr,omitempty"`
	}
)

// renderPlan writes the dry-run plan as YAML.
func renderPlan(w io.Writer, res *provision.Result) error {
	doc := planDocument{
		DryRun: true,
		Jail:   res.Spec.Summarize(res.RunID),
		Plan:   res.Plan,
	}
	return encodeYAML(w, doc)
}

// renderResultYAML writes the outcome of a run, successful or not, as YAML.
func renderResultYAML(w io.Writer, res *provision.Result, err error) error {
	doc := resultDocument{
		RunID: res.RunID,
		State: res.State.String(),
		Steps: make([]stepReport, 0, len(res.Outcomes)),
	}
	if res.State == provision.StateDone {
		sum := res.Summary
		doc.Jail = &sum
	}
	for i, o := range res.Outcomes {
		r := newStepReport(o)
		r.Index = i + 1
		doc.Steps = append(doc.Steps, r)
	}
	if res.Cleanup != nil {
		r := newStepReport(*res.Cleanup)
		doc.Cleanup = &r
	}
	if err != nil {
		doc.Failure = &failureReport{Message: err.Error()}
		if perr := asProvisionError(err); perr != nil {
			doc.Failure.Class = perr.Class.String()
			doc.Failure.Stage = perr.Stage.String()
			doc.Failure.Step = perr.Step
			if perr.Outcome != nil {
				doc.Failure.Stderr = perr.Outcome.Stderr
			}
		}
	}
	return encodeYAML(w, doc)
}

func newStepReport(o executor.StepOutcome) stepReport {
	return stepReport{
		Kind:        o.Step.Kind.String(),
		Description: o.Step.Description,
		Status:      string(o.Status),
		ExitStatus:  o.ExitStatus,
		Seconds:     o.Duration.Seconds(),
	}
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// renderSummary writes the text report of a provisioned jail.
func renderSummary(w io.Writer, sum jail.Summary) {
	label := func(s string) string { return CmdStyle.Render(fmt.Sprintf("%-10s", s+":")) }

	fmt.Fprintf(w, "%s Jail %s provisioned\n\n", SuccessStyle.Render("✓"), CmdStyle.Render(sum.Name))
	fmt.Fprintf(w, "  %s %s\n", label("Address"), sum.Address)
	fmt.Fprintf(w, "  %s %s\n", label("Gateway"), sum.Gateway)
	fmt.Fprintf(w, "  %s %s\n", label("Release"), sum.Release)
	if sum.SSH {
		fmt.Fprintf(w, "  %s %s\n", label("SSH"), "enabled")
	} else {
		fmt.Fprintf(w, "  %s %s\n", label("SSH"), SubtitleStyle.Render("disabled"))
	}
	if sum.UserCopied {
		fmt.Fprintf(w, "  %s %s (%d authorized keys)\n", label("User"), sum.User, sum.Keys)
	}
	fmt.Fprintf(w, "  %s %s\n", label("Run ID"), SubtitleStyle.Render(sum.RunID))
}

// renderExecutionFailure builds the failure card for a failed step: the
// step, its exit status and stderr, what had already been done and what
// became of the jail.
func renderExecutionFailure(perr *provision.Error, jailName string) string {
	var sb strings.Builder

	sb.WriteString(renderHeaderStyle.Render("✗ Provisioning jail " + jailName + " failed"))
	sb.WriteString("\n\n")

	if o := perr.Outcome; o != nil {
		fmt.Fprintf(&sb, "%s %s\n", renderLabelStyle.Render(fmt.Sprintf("Failed step (%d of %d):", perr.Step, perr.Total)), o.Step.Description)
		fmt.Fprintf(&sb, "  %s %s\n", renderLabelStyle.Render("Command:"), renderValueStyle.Render(o.Step.CommandLine()))
		if o.Cause != nil {
			fmt.Fprintf(&sb, "  %s %v\n", renderLabelStyle.Render("Error:"), o.Cause)
		} else {
			fmt.Fprintf(&sb, "  %s %d\n", renderLabelStyle.Render("Exit status:"), o.ExitStatus)
		}
		if stderr := strings.TrimRight(o.Stderr, "\n"); stderr != "" {
			sb.WriteString(renderLabelStyle.Render("  Stderr:"))
			sb.WriteString("\n")
			for _, line := range strings.Split(stderr, "\n") {
				sb.WriteString("    ")
				sb.WriteString(renderValueStyle.Render(line))
				sb.WriteString("\n")
			}
		}
	}

	sb.WriteString("\n")
	sb.WriteString(renderLabelStyle.Render("Completed steps:"))
	sb.WriteString("\n")
	if len(perr.Completed) == 0 {
		sb.WriteString("  " + SubtitleStyle.Render("(none)") + "\n")
	}
	for _, o := range perr.Completed {
		fmt.Fprintf(&sb, "  %s %s\n", SuccessStyle.Render("✓"), o.Step.Description)
	}

	var hint string
	switch c := perr.Cleanup; {
	case c == nil:
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%s %s\n", renderLabelStyle.Render("Jail:"), WarningStyle.Render("left in place"))
		hint = fmt.Sprintf("The jail was left as it is. Finish it by hand or remove it with 'iocage destroy --force %s'.", jailName)
	case c.Succeeded():
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%s %s\n", renderLabelStyle.Render("Cleanup:"), "jail destroyed")
		hint = "Nothing was left behind. Fix the cause and run the same command again."
	default:
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%s %s\n", renderLabelStyle.Render("Cleanup:"), ErrorStyle.Render("failed: "+c.Err().Error()))
		hint = fmt.Sprintf("Remove the jail by hand with 'iocage destroy --force %s'.", jailName)
	}
	sb.WriteString(renderHintStyle.Render(hint))
	sb.WriteString("\n")

	return sb.String()
}
