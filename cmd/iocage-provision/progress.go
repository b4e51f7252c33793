// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/fnichol/iocage-provision/internal/app/provision"
	"github.com/fnichol/iocage-provision/internal/executor"
	"github.com/fnichol/iocage-provision/internal/plan"
)

var _ provision.Observer = (*progressObserver)(nil)

// progressObserver draws one bar for the plan on an interactive terminal.
// The bar is created when the first step starts, once the total is known.
type progressObserver struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newProgressObserver(w io.Writer) *progressObserver {
	return &progressObserver{w: w}
}

func (p *progressObserver) StateChanged(_, _ provision.State) {}

func (p *progressObserver) StepStarted(index, total int, step plan.Step) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetWidth(20),
			progressbar.OptionClearOnFinish(),
		)
	}
	p.bar.Describe(fmt.Sprintf("[%d/%d] %s", index, total, step.Description))
}

func (p *progressObserver) StepFinished(_, _ int, outcome executor.StepOutcome) {
	if p.bar == nil {
		return
	}
	if !outcome.Succeeded() {
		p.close()
		return
	}
	_ = p.bar.Add(1)
}

// close removes the bar so the summary or failure card starts on a clean line.
func (p *progressObserver) close() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Clear()
	fmt.Fprintln(p.w)
	p.bar = nil
}
