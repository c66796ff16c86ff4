// Package models contains domain types for the cutoff reconciliation pipeline.
package models

import (
	"context"
	"slices"
)

// Role is the authorization role of an authenticated caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReviewer Role = "reviewer"
	RoleViewer   Role = "viewer"
)

// IsValid returns true if the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleReviewer, RoleViewer:
		return true
	default:
		return false
	}
}

// SystemActorID is recorded as the actor for unattended pipeline actions
// such as auto-approval during ingestion.
const SystemActorID = "system"

// Caller identifies who performs an operation. Authentication happens
// upstream; the pipeline only trusts what is carried here.
type Caller struct {
	UID  string `json:"uid"`
	Role Role   `json:"role"`
}

// CanMutate reports whether the caller may change reconciliation or warehouse state.
func (c Caller) CanMutate() bool {
	return c.Role == RoleReviewer || c.Role == RoleAdmin
}

// HasRole reports whether the caller holds one of the given roles.
func (c Caller) HasRole(roles ...Role) bool {
	return slices.Contains(roles, c.Role)
}

type callerKey struct{}

// WithCaller returns a new context carrying the caller.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// GetCaller retrieves the caller from the context.
func GetCaller(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// SystemCaller is used by batch jobs that run without a human in the loop.
func SystemCaller() Caller {
	return Caller{UID: SystemActorID, Role: RoleAdmin}
}
