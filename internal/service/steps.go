package service

import (
	"context"
	"fmt"
	"strings"

	"oldruby-market/internal/domain"

	"go.uber.org/zap"
)

// StepStatus is the state of one write in a multi-step operation
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepPending   StepStatus = "pending"
)

// StepResult records what happened to a single step
type StepResult struct {
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Affected int64      `json:"affected"`
	Error    string     `json:"error,omitempty"`
}

// Outcome is the per-step report returned by every coordinator write
type Outcome struct {
	Operation string       `json:"operation"`
	Steps     []StepResult `json:"steps"`
}

// Succeeded reports whether every step completed
func (o *Outcome) Succeeded() bool {
	for _, s := range o.Steps {
		if s.Status != StepCompleted {
			return false
		}
	}
	return true
}

// Completed lists the steps that were applied
func (o *Outcome) Completed() []string {
	return o.names(func(s StepResult) bool { return s.Status == StepCompleted })
}

// Pending lists the steps that were not applied, the failed one included
func (o *Outcome) Pending() []string {
	return o.names(func(s StepResult) bool { return s.Status != StepCompleted })
}

// Affected returns the document count reported by the named step
func (o *Outcome) Affected(name string) int64 {
	for _, s := range o.Steps {
		if s.Name == name {
			return s.Affected
		}
	}
	return 0
}

func (o *Outcome) names(keep func(StepResult) bool) []string {
	names := []string{}
	for _, s := range o.Steps {
		if keep(s) {
			names = append(names, s.Name)
		}
	}
	return names
}

// PartialFailureError is returned when a later step fails after an earlier
// one was applied. Every step is idempotent, so the recovery is to invoke the
// same operation again with the same arguments; nothing is rolled back.
type PartialFailureError struct {
	Outcome    *Outcome
	FailedStep string
	Err        error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %s: completed [%s], failed at %s, pending [%s]: %v",
		domain.ErrPartialFailure,
		e.Outcome.Operation,
		strings.Join(e.Outcome.Completed(), ", "),
		e.FailedStep,
		strings.Join(e.Outcome.Pending(), ", "),
		e.Err,
	)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// Is matches domain.ErrPartialFailure
func (e *PartialFailureError) Is(target error) bool {
	return target == domain.ErrPartialFailure
}

// step is one idempotent write. run returns the number of documents touched.
type step struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

// runSteps executes steps strictly in order and stops at the first failure.
// A failure of the first step is returned as is since nothing was applied;
// any later failure becomes a PartialFailureError. A cancelled context fails
// the next step without undoing the ones already applied.
func runSteps(ctx context.Context, logger *zap.Logger, operation string, steps []step) (*Outcome, error) {
	outcome := &Outcome{Operation: operation, Steps: make([]StepResult, len(steps))}
	for i, s := range steps {
		outcome.Steps[i] = StepResult{Name: s.name, Status: StepPending}
	}

	for i, s := range steps {
		err := ctx.Err()
		var affected int64
		if err == nil {
			affected, err = s.run(ctx)
		}

		if err != nil {
			outcome.Steps[i].Status = StepFailed
			outcome.Steps[i].Error = err.Error()

			if i == 0 {
				logger.Debug("Operation rejected before any write",
					zap.String("operation", operation),
					zap.String("step", s.name),
					zap.Error(err),
				)
				return outcome, err
			}

			logger.Warn("Operation partially applied",
				zap.String("operation", operation),
				zap.String("failed_step", s.name),
				zap.Strings("completed", outcome.Completed()),
				zap.Strings("pending", outcome.Pending()),
				zap.Error(err),
			)
			return outcome, &PartialFailureError{Outcome: outcome, FailedStep: s.name, Err: err}
		}

		outcome.Steps[i].Status = StepCompleted
		outcome.Steps[i].Affected = affected
		logger.Debug("Step completed",
			zap.String("operation", operation),
			zap.String("step", s.name),
			zap.Int64("affected", affected),
		)
	}

	return outcome, nil
}
