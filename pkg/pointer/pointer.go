// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Package pointer removes the temporary-variable boilerplate around optional
// struct fields like expiry timestamps.
package pointer

// To returns a pointer to the given value.
func To[T any](value T) *T {
	return &value
}

// Val dereferences p, returning the zero value when p is nil.
func Val[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
