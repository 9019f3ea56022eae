package pipeline

import (
	"fmt"

	"github.com/Brushfam/patron-backend/internal/session"
)

// Stage names, in execution order.
const (
	StageUnarchive   = "unarchive"
	StageSealSources = "seal-sources"
	StageToolchain   = "toolchain"
	StageCompile     = "compile"
	StageNormalize   = "normalize-output"
)

// Reserved exit codes the stage scripts use to report which operation
// failed, so the orchestrator can classify the outcome without parsing
// output.
const (
	exitDownload         = 64
	exitUnpack           = 65
	exitUpload           = 66
	exitSeal             = 67
	exitToolchainInstall = 68
	exitArtifactMissing  = 69

	// 128+SIGKILL: the process tree was killed, by the kernel on an
	// out-of-memory condition or by forced termination.
	exitKilled = 137
)

// An ordered, self-contained unit of work executed inside the sandbox.
// Stages are read-only configuration: a script plus the environment it
// requires, never session-scoped mutable state.
type Stage struct {
	Name   string   // Stage name, also the session status it runs under.
	Script string   // Shell script executed with /bin/sh -ec in the work directory.
	Env    []string // Stage-specific environment appended over the sandbox environment.
}

// The session status a stage runs under.
func (s Stage) Status() session.Status {
	switch s.Name {
	case StageUnarchive:
		return session.StatusUnarchiving
	case StageSealSources:
		return session.StatusUploading
	case StageCompile:
		return session.StatusBuilding
	case StageNormalize:
		return session.StatusNormalizingOutput
	default:
		return session.StatusBuilding
	}
}

// Maps a stage's non-zero exit code to the session failure taxonomy.
//
// Reserved codes identify the exact operation that failed; anything else
// falls back to the stage's characteristic failure. Exit 137 always means
// the process tree was killed, which inside an enforced memory ceiling is
// an out-of-resource outcome.
func Classify(stage string, exitCode int) error {
	if exitCode == 0 {
		return nil
	}

	var reason error
	switch exitCode {
	case exitDownload:
		reason = session.ErrDownload
	case exitUnpack:
		reason = session.ErrUnpack
	case exitUpload:
		reason = session.ErrUpload
	case exitSeal:
		reason = session.ErrSeal
	case exitToolchainInstall:
		reason = session.ErrToolchainInstall
	case exitArtifactMissing:
		reason = session.ErrArtifactMissing
	case exitKilled:
		reason = session.ErrResourceExceeded
	default:
		switch stage {
		case StageUnarchive:
			reason = session.ErrUnpack
		case StageSealSources:
			reason = session.ErrUpload
		case StageToolchain:
			reason = session.ErrToolchainInstall
		case StageNormalize:
			reason = session.ErrArtifactMissing
		default:
			reason = session.ErrCompile
		}
	}

	return fmt.Errorf("%w: stage %s exited with code %d", reason, stage, exitCode)
}
