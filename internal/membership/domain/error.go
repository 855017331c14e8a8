package domain

import "errors"

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidPermission   = errors.New("invalid_permission")
	ErrMembershipNotFound  = errors.New("membership_not_found")
	ErrInviteNotFound      = errors.New("invite_not_found")
	ErrDuplicateMembership = errors.New("duplicate_membership")
	ErrDuplicateInvite     = errors.New("duplicate_invite")
	ErrAlreadyMember       = errors.New("already_member")
	ErrInvalidToken        = errors.New("invalid_token")
	ErrInviteExpired       = errors.New("invite_expired")
	ErrSelfRemoval         = errors.New("self_removal")
	ErrSelfDemotion        = errors.New("self_demotion")
	ErrLastManager         = errors.New("last_manager")
	ErrRateLimited         = errors.New("rate_limited")
)
