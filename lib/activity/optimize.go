// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

// Optimize returns a reduced list with the same observable effect.
// NOPs are dropped, and a run of consecutive SelectionChanges from one
// source on one resource collapses to its last entry. Every other
// activity keeps its relative order. The input is not modified.
func Optimize(activities []Activity) []Activity {
	optimized := make([]Activity, 0, len(activities))
	for _, a := range activities {
		switch a := a.(type) {
		case NOP:
			continue
		case SelectionChange:
			if n := len(optimized); n > 0 {
				if previous, ok := optimized[n-1].(SelectionChange); ok &&
					previous.Src == a.Src && previous.Resource == a.Resource {
					optimized[n-1] = a
					continue
				}
			}
		}
		optimized = append(optimized, a)
	}
	return optimized
}
