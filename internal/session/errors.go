package session

import "errors"

// Failure taxonomy for build sessions. Every failed session records
// exactly one of these sentinels as its reason; comparisons go through
// [errors.Is] so callers may wrap them with detail.
var (
	ErrDownload         = errors.New("source archive download failed")
	ErrUnpack           = errors.New("source archive unpack failed")
	ErrUpload           = errors.New("source file upload failed")
	ErrSeal             = errors.New("source sealing failed")
	ErrToolchainInstall = errors.New("toolchain install failed")
	ErrCompile          = errors.New("contract compilation failed")
	ErrArtifactMissing  = errors.New("build artifact missing")
	ErrArtifactTooLarge = errors.New("build artifact exceeds size limit")
	ErrResourceExceeded = errors.New("memory limit exceeded")
	ErrVolumeProvision  = errors.New("volume provisioning failed")
	ErrSandboxRuntime   = errors.New("sandbox runtime failure")
	ErrTimeout          = errors.New("build duration limit exceeded")
)

// Errors that usually indicate host-level exhaustion rather than a bad
// submission. The scheduler surfaces these as operational alerts.
func Operational(err error) bool {
	return errors.Is(err, ErrVolumeProvision) || errors.Is(err, ErrSandboxRuntime)
}
