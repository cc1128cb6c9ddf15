package crawler

import "errors"

// Queue errors shared by implementations so callers can match with errors.Is.
var (
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueFull   = errors.New("queue full")
	ErrDuplicate   = errors.New("target already seen")
	ErrDropped     = errors.New("queue full, item dropped")
)
