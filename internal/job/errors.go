package job

import "errors"

var (
	// ErrDecode is returned when a queue payload cannot be turned back into a QueuedJob
	ErrDecode = errors.New("malformed job payload")

	// ErrInvalidText is returned when a job carries text that is not valid UTF-8
	ErrInvalidText = errors.New("job text is not valid UTF-8")

	// ErrJobNotFound is returned when a job record cannot be found
	ErrJobNotFound = errors.New("job not found")
)
