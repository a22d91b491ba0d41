// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package rbac implements role-based access control: resolving role names to
permission sets and answering authorization questions about them.

Permission keys have the shape "action:resource" (e.g. "read:workflows").
Either side may be the wildcard '*', and the bare grant "*" matches every
permission. Grants are purely additive; there are no negative permissions, so
the answer for a role set is the union of its roles' grants.
*/
package rbac

import "strings"

/*
Match reports whether a single granted permission satisfies a required one.

Evaluation order (most to least specific):

 1. Exact: "read:workflows" satisfies "read:workflows".
 2. Action wildcard on resource: "read:*" satisfies "read:<anything>".
 3. Resource wildcard on action: "*:workflows" satisfies "<anything>:workflows".
 4. Full wildcard: "*" satisfies everything.

The required side is always concrete; wildcards only appear in grants.
*/
func Match(granted, required string) bool {
	if granted == required {
		return true
	}
	if granted == "*" {
		return true
	}

	grantedAction, grantedResource, ok := strings.Cut(granted, ":")
	if !ok {
		return false
	}
	requiredAction, requiredResource, ok := strings.Cut(required, ":")
	if !ok {
		return false
	}

	actionMatches := grantedAction == "*" || grantedAction == requiredAction
	resourceMatches := grantedResource == "*" || grantedResource == requiredResource

	return actionMatches && resourceMatches
}

// MatchAny reports whether any grant in the set satisfies the required
// permission.
func MatchAny(granted []string, required string) bool {
	for _, grant := range granted {
		if Match(grant, required) {
			return true
		}
	}
	return false
}
