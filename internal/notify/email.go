// Package notify sends operational alerts for task failures. It subscribes
// to the message channel; the orchestrator core knows nothing about email.
package notify

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/mvoland/orq/internal/events"
	"github.com/mvoland/orq/internal/progress"
)

type sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type EmailNotifier struct {
	client      sender
	fromName    string
	fromAddress string
	toAddress   string
	log         zerolog.Logger
}

func NewEmailNotifier(apiKey, fromName, fromAddress, toAddress string, log zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		client:      sendgrid.NewSendClient(apiKey),
		fromName:    fromName,
		fromAddress: fromAddress,
		toAddress:   toAddress,
		log:         log,
	}
}

// FailureHandler returns the message channel handler to subscribe on
// task:failed.
func (n *EmailNotifier) FailureHandler() events.Handler {
	return func(e events.Event) {
		p, ok := e.Payload.(*progress.Progress)
		if !ok {
			n.log.Warn().Str("event", e.Name).Msg("unexpected payload on failure event")
			return
		}

		if err := n.sendFailureAlert(e, p); err != nil {
			n.log.Error().Err(err).Str("task_id", e.TaskID).Msg("failure alert not sent")
		}
	}
}

func (n *EmailNotifier) sendFailureAlert(e events.Event, p *progress.Progress) error {
	reason := ""
	for _, rec := range p.PerWorker {
		if rec.Status == progress.StatusFailed {
			reason = rec.FailureReason
			break
		}
	}

	subject := fmt.Sprintf("[orq] task %s failed", p.Definition.Name)
	body := fmt.Sprintf(
		"Task %s (%s) failed on worker %s: %s\nOverall progress at failure: %d%%\n",
		p.Definition.Name, e.TaskID, e.Worker, reason, p.Overall,
	)

	from := mail.NewEmail(n.fromName, n.fromAddress)
	to := mail.NewEmail("", n.toAddress)
	email := mail.NewSingleEmail(from, subject, to, body, body)

	response, err := n.client.Send(email)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	n.log.Info().Str("task_id", e.TaskID).Int("status", response.StatusCode).Msg("failure alert sent")
	return nil
}
