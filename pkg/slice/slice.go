// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Package slice complements the standard [slices] package with the generic
// helpers the permission and admission code leans on.
package slice

import "sort"

// Filter returns the elements for which keep evaluates to true.
func Filter[T any](input []T, keep func(T) bool) []T {
	if input == nil {
		return nil
	}

	// No pre-allocation: heavy filters would waste the capacity.
	var result []T
	for _, element := range input {
		if keep(element) {
			result = append(result, element)
		}
	}
	return result
}

// Map transforms each element of input through fn.
func Map[T any, U any](input []T, fn func(T) U) []U {
	if input == nil {
		return nil
	}

	result := make([]U, len(input))
	for i, element := range input {
		result[i] = fn(element)
	}
	return result
}

// SortedUnique returns the distinct elements of input in ascending order.
// The input slice is not modified. A nil or empty input yields an empty,
// non-nil slice.
func SortedUnique[T ~string](input []T) []T {
	unique := make(map[T]struct{}, len(input))
	for _, element := range input {
		unique[element] = struct{}{}
	}

	result := make([]T, 0, len(unique))
	for element := range unique {
		result = append(result, element)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
