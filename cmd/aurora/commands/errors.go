package commands

import (
	"github.com/aurora-pkg/aurora/pkg/aurorerr"
)

// UserMessage maps a terminal error to the single short sentence shown to
// the user, keyed by the error's taxonomy kind. Errors without a kind fall
// through to their own message.
func UserMessage(err error) string {
	kind, ok := aurorerr.KindOf(err)
	if !ok {
		return err.Error()
	}

	switch kind {
	case aurorerr.KindResolutionFailed:
		return "Dependency resolution failed: " + err.Error()
	case aurorerr.KindDownloadFailed:
		return "Download failed; check your network and mirror configuration."
	case aurorerr.KindChecksumMismatch:
		return "Integrity check failed: a downloaded archive does not match its checksum."
	case aurorerr.KindPackageAlreadyInstalled:
		return "Package is already installed."
	case aurorerr.KindPackageNotInstalled:
		return "Package is not installed."
	case aurorerr.KindAmbiguousProvider:
		return "A dependency is provided by more than one package; install one explicitly."
	case aurorerr.KindNotEnoughSpace:
		return "Not enough free space on the target root."
	case aurorerr.KindFileConflict:
		return "File conflict: a path is already owned or present on disk (use --force to override)."
	case aurorerr.KindExtractionFailed:
		return "Archive extraction failed; the package file may be corrupt."
	case aurorerr.KindScriptletFailed:
		return "A package script failed; the transaction was rolled back."
	case aurorerr.KindFileSystemError:
		return "A filesystem operation failed; the transaction was rolled back."
	case aurorerr.KindConflictDetected:
		return "Package conflict detected (use --force to override)."
	case aurorerr.KindDependencyViolation:
		return "Another installed package depends on a removal target (use --force to override)."
	default:
		return err.Error()
	}
}
