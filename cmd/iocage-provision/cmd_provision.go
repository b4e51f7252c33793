// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/fnichol/iocage-provision/internal/app/provision"
	"github.com/fnichol/iocage-provision/internal/config"
	"github.com/fnichol/iocage-provision/internal/issue"
	"github.com/fnichol/iocage-provision/internal/jail"
	"github.com/fnichol/iocage-provision/internal/metrics"
	"github.com/fnichol/iocage-provision/pkg/types"
)

// runProvision handles the root command: load config, build the request,
// then plan (--dry-run) or provision, and report.
func runProvision(ctx context.Context, app *App, opts *rootOptions, name, address string) error {
	verbose := opts.verbosity > 0

	if opts.output != outputText && opts.output != outputYAML {
		err := fmt.Errorf("invalid --output %q (valid: %s, %s)", opts.output, outputText, outputYAML)
		return &ExitError{
			Code: types.ExitValidation,
			Err:  newServiceError(err, 0, fmt.Sprintf("\n%s %v\n", ErrorStyle.Render("Error:"), err)),
		}
	}

	cfg, err := app.Config.Load(ctx, config.LoadOptions{ConfigFilePath: opts.configPath})
	if err != nil {
		return newFailure(err, name, verbose)
	}

	logger, slogger := newLogger(app.stderr, opts.verbosity, cfg.Log.Level)

	policy, err := jail.ParseFailurePolicy(cfg.OnFailure.String())
	if err != nil {
		return newFailure(err, name, verbose)
	}
	if opts.destroyOnFailure {
		policy = jail.DestroyOnFailure
	}

	req := jail.Request{
		Name:    jail.Name(name),
		Address: address,
		Gateway: opts.gateway,
		Release: opts.release,
		User:    opts.user,
		SSH:     opts.ssh,
		Thick:   opts.thick || cfg.ThickJail,
	}

	settings := runSettings{cfg: cfg, policy: policy, logger: slogger}

	metricsPath := opts.metricsFile
	if metricsPath == "" {
		metricsPath = cfg.Metrics.Textfile
	}
	var recorder *metrics.Recorder
	if metricsPath != "" {
		recorder = metrics.New()
		settings.observers = append(settings.observers, recorder)
	}

	// On a terminal at the default verbosity a progress bar replaces the
	// per-step log lines.
	var progress *progressObserver
	if !opts.dryRun && !verbose && logger.GetLevel() == log.InfoLevel && app.isTerminal(app.stderr) {
		progress = newProgressObserver(app.stderr)
		settings.observers = append(settings.observers, progress)
		logger.SetLevel(log.WarnLevel)
	}

	prov, err := app.newProvisioner(settings)
	if err != nil {
		return newFailure(err, name, verbose)
	}

	var res *provision.Result
	if opts.dryRun {
		res, err = prov.Plan(req)
	} else {
		res, err = prov.Provision(ctx, req)
	}

	if progress != nil {
		progress.close()
		logger.SetLevel(log.InfoLevel)
	}

	if recorder != nil {
		recorder.RecordRun(name, res, err, opts.dryRun)
		if werr := recorder.WriteTextfile(metricsPath); werr != nil {
			slogger.Warn("metrics not written", "error", issue.WrapWithContext(werr, "write metrics", metricsPath))
		}
	}

	if opts.output == outputYAML && !opts.dryRun {
		if rerr := renderResultYAML(app.stdout, res, err); rerr != nil {
			return newFailure(rerr, name, verbose)
		}
	}

	if err != nil {
		return newFailure(err, name, verbose)
	}

	switch {
	case opts.dryRun:
		if rerr := renderPlan(app.stdout, res); rerr != nil {
			return newFailure(rerr, name, verbose)
		}
	case opts.output == outputText:
		renderSummary(app.stdout, res.Summary)
	}
	return nil
}
