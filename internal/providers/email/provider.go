package email

import "context"

// InviteMessage carries everything the invite template needs.
type InviteMessage struct {
	To         string
	TenantName string
	RoleName   string
	Inviter    string
	Token      string
}

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	// SendInvite delivers the invite redemption token to the invitee.
	SendInvite(ctx context.Context, msg InviteMessage) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (p *NoOpProvider) SendInvite(ctx context.Context, msg InviteMessage) error {
	return nil
}
