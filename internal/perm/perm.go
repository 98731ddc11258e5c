// Package perm resolves whether a caller may act on another user's telework
// session.
package perm

import "github.com/atriumhr/telework-engine/internal/model"

// Deny reasons are internal audit detail and are never echoed verbatim to the
// caller.
const (
	ReasonSelf            = "self"
	ReasonGlobalView      = "can_view_all_data"
	ReasonDirectManager   = "direct_manager_with_flag"
	ReasonNotPermitted    = "missing_force_checkout_permission"
	ReasonNotDirectReport = "target_not_direct_report"
)

type Decision struct {
	Allowed bool
	Reason  string
}

// CanActOn is the self-service ownership rule: a caller may always act on
// their own session, or on any session when the global-view flag is set.
func CanActOn(actor *model.PermissionProfile, owner *model.Profile) Decision {
	if actor.ID == owner.ID {
		return Decision{Allowed: true, Reason: ReasonSelf}
	}
	if actor.Grade.CanViewAllData {
		return Decision{Allowed: true, Reason: ReasonGlobalView}
	}
	return Decision{Allowed: false, Reason: ReasonNotPermitted}
}

// CanForceCheckout gates the forced-checkout operation: the actor needs the
// can_force_checkout or can_view_all_data grade flag, and without the global
// flag the target's owner must be a direct report of the actor.
func CanForceCheckout(actor *model.PermissionProfile, owner *model.Profile) Decision {
	if actor.Grade.CanViewAllData {
		return Decision{Allowed: true, Reason: ReasonGlobalView}
	}
	if !actor.Grade.CanForceCheckout {
		return Decision{Allowed: false, Reason: ReasonNotPermitted}
	}
	if owner.ManagerID == nil || *owner.ManagerID != actor.ID {
		return Decision{Allowed: false, Reason: ReasonNotDirectReport}
	}
	return Decision{Allowed: true, Reason: ReasonDirectManager}
}
