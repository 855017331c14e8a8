package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// RegisterInput carries the fields needed to create a new account.
type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
}

// LoginInput carries credentials plus request metadata recorded on the session.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// LoginResult is returned on a successful login. Token is the opaque session
// token handed to the client; only its hash is stored.
type LoginResult struct {
	Account *Account
	Session *Session
	Token   string
}

// Service is the identity service surface.
type Service interface {
	Register(ctx context.Context, in RegisterInput) (*Account, error)
	// Provision creates an account without credentials, used when an invite
	// is issued to an email with no existing account.
	Provision(ctx context.Context, email, displayName string) (*Account, error)
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
	Logout(ctx context.Context, token string) error
	// Authenticate resolves a session token to its account, touching the
	// session's last-seen timestamp.
	Authenticate(ctx context.Context, token string) (*Account, *Session, error)
	GetAccount(ctx context.Context, id snowflake.ID) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	SetPassword(ctx context.Context, accountID snowflake.ID, password string) error
}
