package submission

import (
	"errors"
	"fmt"
)

const (
	StatusUploaded  = "uploaded"
	StatusAnnotated = "annotated"
	StatusReported  = "reported"
)

var validStatuses = map[string]bool{
	StatusUploaded:  true,
	StatusAnnotated: true,
	StatusReported:  true,
}

// ValidStatus reports whether status is one of the three lifecycle states.
func ValidStatus(status string) bool {
	return validStatuses[status]
}

// Action is a lifecycle mutation.
type Action string

const (
	ActionSaveAnnotatedImage Action = "save-annotated-image"
	ActionAnnotate           Action = "annotate"
	ActionGenerateReport     Action = "generate-report"
)

var (
	ErrAlreadyReported   = errors.New("submission has already been reported")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type transition struct {
	from map[string]bool
	to   string
}

var transitions = map[Action]transition{
	ActionSaveAnnotatedImage: {from: map[string]bool{StatusUploaded: true, StatusAnnotated: true}, to: StatusAnnotated},
	ActionAnnotate:           {from: map[string]bool{StatusUploaded: true, StatusAnnotated: true}, to: StatusAnnotated},
	ActionGenerateReport:     {from: map[string]bool{StatusAnnotated: true}, to: StatusReported},
}

// Next returns the status reached by applying action in status from. Reported
// is terminal: every action from it fails with ErrAlreadyReported.
func Next(from string, action Action) (string, error) {
	if from == StatusReported {
		return "", ErrAlreadyReported
	}
	t, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if !t.from[from] {
		return "", fmt.Errorf("%w: cannot %s a submission in status %q", ErrInvalidTransition, action, from)
	}
	return t.to, nil
}

// statusRank orders the states so that regressions can be detected.
func statusRank(status string) int {
	switch status {
	case StatusUploaded:
		return 1
	case StatusAnnotated:
		return 2
	case StatusReported:
		return 3
	default:
		return 0
	}
}
