package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MVPID represents a unique identifier for an MVP
type MVPID struct {
	value string
}

// NewMVPID creates a new MVPID
func NewMVPID() MVPID {
	return MVPID{value: uuid.New().String()}
}

// NewMVPIDFromString creates an MVPID from an existing string
func NewMVPIDFromString(id string) (MVPID, error) {
	if id == "" {
		return MVPID{}, errors.New("MVP ID cannot be empty")
	}
	return MVPID{value: id}, nil
}

// String returns the string representation
func (m MVPID) String() string {
	return m.value
}

// Equals checks if two MVPIDs are equal
func (m MVPID) Equals(other MVPID) bool {
	return m.value == other.value
}

// Status represents the current pipeline status of an MVP
type Status string

const (
	StatusCreated      Status = "CREATED"
	StatusIdeating     Status = "IDEATING"
	StatusArchitecting Status = "ARCHITECTING"
	StatusBuilding     Status = "BUILDING"
	StatusBuildFailed  Status = "BUILD_FAILED"
	StatusDeploying    Status = "DEPLOYING"
	StatusDeployFailed Status = "DEPLOY_FAILED"
	StatusTokenizing   Status = "TOKENIZING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

// validTransitions is the exhaustive transition table. COMPLETED and FAILED
// are terminal and have no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusCreated:      {StatusIdeating},
	StatusIdeating:     {StatusArchitecting, StatusFailed},
	StatusArchitecting: {StatusBuilding, StatusFailed},
	StatusBuilding:     {StatusDeploying, StatusBuildFailed},
	StatusBuildFailed:  {StatusBuilding, StatusFailed},
	StatusDeploying:    {StatusTokenizing, StatusDeployFailed},
	StatusDeployFailed: {StatusDeploying, StatusFailed},
	StatusTokenizing:   {StatusCompleted, StatusFailed},
	StatusCompleted:    {},
	StatusFailed:       {},
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// IsValid validates the status
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo checks if a status transition is valid
func (s Status) CanTransitionTo(next Status) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}

	for _, allowedStatus := range allowed {
		if allowedStatus == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status allows no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsNonTerminal reports whether the pipeline is still in progress
func (s Status) IsNonTerminal() bool {
	return s.IsValid() && !s.IsTerminal()
}

// ValidNextStatuses returns the allowed target statuses for a status
func (s Status) ValidNextStatuses() []Status {
	allowed := validTransitions[s]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// NonTerminalStatuses returns every status eligible for crash recovery
func NonTerminalStatuses() []Status {
	return []Status{
		StatusCreated,
		StatusIdeating,
		StatusArchitecting,
		StatusBuilding,
		StatusBuildFailed,
		StatusDeploying,
		StatusDeployFailed,
		StatusTokenizing,
	}
}

// Stage represents one phase of the build pipeline
type Stage string

const (
	StageIdeation     Stage = "ideation"
	StageArchitecture Stage = "architecture"
	StageBuilding     Stage = "building"
	StageDeployment   Stage = "deployment"
	StageTokenization Stage = "tokenization"
)

// String returns the string representation
func (s Stage) String() string {
	return string(s)
}

// IsValid validates the stage
func (s Stage) IsValid() bool {
	switch s {
	case StageIdeation, StageArchitecture, StageBuilding, StageDeployment, StageTokenization:
		return true
	default:
		return false
	}
}

// Attempt represents an execution attempt counter
type Attempt struct {
	value int
}

// NewAttempt creates a new Attempt starting from 1
func NewAttempt() Attempt {
	return Attempt{value: 1}
}

// NewAttemptFromInt creates an Attempt from an integer value
func NewAttemptFromInt(value int) (Attempt, error) {
	if value < 1 {
		return Attempt{}, errors.New("attempt value must be at least 1")
	}
	return Attempt{value: value}, nil
}

// Value returns the integer value
func (a Attempt) Value() int {
	return a.value
}

// Increment returns a new Attempt with incremented value
func (a Attempt) Increment() Attempt {
	return Attempt{value: a.value + 1}
}

// String returns the string representation
func (a Attempt) String() string {
	return fmt.Sprintf("Attempt %d", a.value)
}

// Timestamp represents a point in time
type Timestamp struct {
	value time.Time
}

// NewTimestamp creates a new Timestamp with current time
func NewTimestamp() Timestamp {
	return Timestamp{value: time.Now()}
}

// NewTimestampFromTime creates a Timestamp from a time.Time value
func NewTimestampFromTime(t time.Time) Timestamp {
	return Timestamp{value: t}
}

// Value returns the time.Time value
func (t Timestamp) Value() time.Time {
	return t.value
}

// Before checks if this timestamp is before another
func (t Timestamp) Before(other Timestamp) bool {
	return t.value.Before(other.value)
}

// After checks if this timestamp is after another
func (t Timestamp) After(other Timestamp) bool {
	return t.value.After(other.value)
}

// String returns the string representation
func (t Timestamp) String() string {
	return t.value.Format(time.RFC3339)
}
