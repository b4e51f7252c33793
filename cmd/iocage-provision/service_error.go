// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/fnichol/iocage-provision/internal/app/provision"
	"github.com/fnichol/iocage-provision/internal/config"
	"github.com/fnichol/iocage-provision/internal/executor"
	"github.com/fnichol/iocage-provision/internal/hostuser"
	"github.com/fnichol/iocage-provision/internal/issue"
	"github.com/fnichol/iocage-provision/internal/jail"
	"github.com/fnichol/iocage-provision/internal/netaddr"
	"github.com/fnichol/iocage-provision/internal/plan"
	"github.com/fnichol/iocage-provision/internal/release"
	"github.com/fnichol/iocage-provision/pkg/types"
)

// ServiceError is an error that carries its CLI rendering: a pre-styled
// message and an optional issue catalog entry. Always create via
// newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the styled message followed by the issue
// catalog entry rendered with the given glamour style.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, style string) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}

	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render(style)
		if renderErr != nil {
			slog.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
}

// exitCodeFor maps a failure to the process exit code.
func exitCodeFor(err error) types.ExitCode {
	perr := asProvisionError(err)
	if perr == nil {
		return types.ExitFailure
	}
	switch perr.Class {
	case provision.ClassValidation:
		return types.ExitValidation
	case provision.ClassExecution:
		return types.ExitExecution
	case provision.ClassInternal:
		return types.ExitInternal
	default:
		return types.ExitFailure
	}
}

// classifyError maps a failure to its issue catalog entry and the styled
// message printed above it.
func classifyError(err error, jailName string, verbose bool) (issueID issue.Id, styledMsg string) {
	switch {
	case errors.Is(err, netaddr.ErrInvalidAddress):
		issueID = issue.InvalidAddressId
	case errors.Is(err, netaddr.ErrNetworkTooSmall):
		issueID = issue.NetworkTooSmallId
	case errors.Is(err, netaddr.ErrGatewayCollision):
		issueID = issue.GatewayCollisionId
	case errors.Is(err, release.ErrInvalidRelease):
		issueID = issue.InvalidReleaseId
	case errors.Is(err, release.ErrReleaseDetectionFailed):
		issueID = issue.ReleaseDetectionFailedId
	case errors.Is(err, hostuser.ErrUnknownUser):
		issueID = issue.UnknownUserId
	case errors.Is(err, hostuser.ErrGroupResolutionFailed):
		issueID = issue.GroupResolutionFailedId
	case errors.Is(err, hostuser.ErrCredentialReadFailed):
		issueID = issue.CredentialReadFailedId
	case errors.Is(err, jail.ErrInvalidJailName):
		issueID = issue.InvalidJailNameId
	case errors.Is(err, exec.ErrNotFound):
		issueID = issue.IocageNotFoundId
	case errors.Is(err, executor.ErrCommandFailed):
		issueID = issue.CommandFailedId
	case errors.Is(err, errNotRoot), errors.Is(err, os.ErrPermission):
		issueID = issue.PermissionDeniedId
	case errors.Is(err, config.ErrInvalidConfig):
		issueID = issue.ConfigLoadFailedId
	case errors.Is(err, provision.ErrInternal), errors.Is(err, plan.ErrInvariant):
		issueID = issue.InternalErrorId
	default:
		var ae *issue.ActionableError
		if errors.As(err, &ae) {
			issueID = ae.Issue
		}
	}

	if perr := asProvisionError(err); perr != nil && perr.Class == provision.ClassExecution {
		return issueID, "\n" + renderExecutionFailure(perr, jailName) + "\n"
	}
	return issueID, fmt.Sprintf("\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
}

// newFailure wraps err for the fang error handler with its exit code.
func newFailure(err error, jailName string, verbose bool) *ExitError {
	issueID, msg := classifyError(err, jailName, verbose)
	return &ExitError{Code: exitCodeFor(err), Err: newServiceError(err, issueID, msg)}
}

func asProvisionError(err error) *provision.Error {
	var perr *provision.Error
	if errors.As(err, &perr) {
		return perr
	}
	return nil
}
