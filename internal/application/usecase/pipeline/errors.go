package pipeline

import (
	"fmt"

	"github.com/eidolabs/forge/internal/domain/model"
)

// StageExecutionError reports a stage that completed unsuccessfully. The
// pipeline stops at the failing stage; the unit's status records where.
type StageExecutionError struct {
	MVPID  string
	Stage  model.Stage
	Reason string
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed for MVP %s: %s", e.Stage, e.MVPID, e.Reason)
}

// Code returns the machine-readable error code
func (e *StageExecutionError) Code() string {
	return "STAGE_EXECUTION_ERROR"
}
