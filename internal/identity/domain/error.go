package domain

import "errors"

var (
	ErrAccountNotFound    = errors.New("account_not_found")
	ErrEmailAlreadyExists = errors.New("email_already_exists")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrSessionNotFound    = errors.New("session_not_found")
	ErrSessionExpired     = errors.New("session_expired")
	ErrSessionRevoked     = errors.New("session_revoked")
	ErrWeakPassword       = errors.New("weak_password")
	ErrSignUpDisabled     = errors.New("sign_up_disabled")
)
