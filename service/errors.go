package service

import "fmt"

// MissingPrerequisite reports that a required external tool or path is
// absent before any filesystem mutation was attempted.
type MissingPrerequisite struct {
	What string
}

func (e *MissingPrerequisite) Error() string {
	return fmt.Sprintf("service: missing prerequisite: %s", e.What)
}

// ExitCode maps an error returned by Service.Apply, GC or Rollback to the process exit code
// documented for the CLI surface: 0 success, 1 user/configuration error,
// 2 lock contention, 3 external-tool failure, 4 internal invariant
// violation.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case isAlreadyRunning(err):
		return 2
	case isMissingPrerequisite(err):
		return 1
	case isInvariantViolation(err):
		return 4
	case isStepFailed(err):
		return 3
	default:
		return 1
	}
}
