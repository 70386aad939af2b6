package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidDelta = errors.New("invalid book delta")
	ErrInvalidPlan  = errors.New("invalid execution plan")
)
