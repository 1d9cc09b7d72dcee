package automation

import (
	"errors"
	"fmt"
)

var (
	// ErrElementNotFound is returned when a required group, control or
	// submit button is missing. Pages return it for absent elements too.
	ErrElementNotFound = errors.New("element not found")
	// ErrInvalidChoice means the annotator/reviewer value matches no button.
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrTimeout is returned when the page did not append the next group in time.
	ErrTimeout = errors.New("timed out")
	// ErrInvalidImage means the image payload is not a base64 data URL.
	ErrInvalidImage = errors.New("image data is missing or not a base64 data URL")
)

// StepError ties a failure to the step that produced it. Step is 1-based;
// step 0 named "start" means the page had no group to fill.
type StepError struct {
	Step int
	Name string
	Err  error
}

func (e *StepError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("automation: step %d (%s): %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
