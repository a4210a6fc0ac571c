// Package notify emails the artist when a commission is recorded.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"formtato/internal/commission"
)

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type SendGridNotifier struct {
	client sender
	from   *mail.Email
	to     *mail.Email
	log    logrus.FieldLogger
}

func NewSendGridNotifier(apiKey, from, to string, log logrus.FieldLogger) *SendGridNotifier {
	return newSendGridNotifier(sendgrid.NewSendClient(apiKey), from, to, log)
}

func newSendGridNotifier(client sender, from, to string, log logrus.FieldLogger) *SendGridNotifier {
	return &SendGridNotifier{
		client: client,
		from:   mail.NewEmail("Potato Orders", from),
		to:     mail.NewEmail("", to),
		log:    log.WithField("component", "notify"),
	}
}

func (n *SendGridNotifier) NotifyCommission(ctx context.Context, c commission.Commission) error {
	subject := fmt.Sprintf("New potato request #%d from %s", c.ID, c.Name)
	plain, body := render(c)

	resp, err := n.client.SendWithContext(ctx, mail.NewSingleEmail(n.from, subject, n.to, plain, body))
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	n.log.WithField("commission_id", c.ID).Debug("notification sent")
	return nil
}

func render(c commission.Commission) (string, string) {
	inspiration := "none"
	if c.InspirationURI != nil {
		inspiration = *c.InspirationURI
	}
	wallet := "not given"
	if c.WalletAddress != nil {
		wallet = *c.WalletAddress
	}

	plain := fmt.Sprintf("Order #%d\nName: %s\nTwitter: https://twitter.com/%s\nWallet: %s\nInspiration: %s\nTransaction: https://etherscan.io/tx/%s\n",
		c.ID, c.Name, c.TwitterUsername, wallet, inspiration, c.TxHash)
	body := fmt.Sprintf(`<p>Order #%d</p><ul><li>Name: %s</li><li>Twitter: <a href="https://twitter.com/%s">@%s</a></li><li>Wallet: %s</li><li>Inspiration: %s</li><li>Transaction: <a href="https://etherscan.io/tx/%s">%s</a></li></ul>`,
		c.ID, html.EscapeString(c.Name), html.EscapeString(c.TwitterUsername), html.EscapeString(c.TwitterUsername), html.EscapeString(wallet), html.EscapeString(inspiration), html.EscapeString(c.TxHash), html.EscapeString(c.TxHash))
	return plain, body
}

// Nop drops notifications; used when no email key is configured.
type Nop struct{}

func (Nop) NotifyCommission(context.Context, commission.Commission) error { return nil }
