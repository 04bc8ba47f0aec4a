package engine

import "errors"

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
	ErrInvalidTask = errors.New("task requires a name and a run func")
)
