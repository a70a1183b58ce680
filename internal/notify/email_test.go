package notify

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoland/orq/internal/events"
	"github.com/mvoland/orq/internal/progress"
	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/task"
)

type fakeSender struct {
	sent []*mail.SGMailV3
	resp *rest.Response
	err  error
}

func (f *fakeSender) Send(email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.resp == nil {
		return &rest.Response{StatusCode: 202}, f.err
	}
	return f.resp, f.err
}

func newTestNotifier(s sender) *EmailNotifier {
	return &EmailNotifier{
		client:      s,
		fromName:    "orq",
		fromAddress: "orq@example.com",
		toAddress:   "oncall@example.com",
		log:         zerolog.Nop(),
	}
}

func failedEvent() events.Event {
	def := task.NewDefinition("deploy", []registry.Kind{registry.KindBackend}, task.ComplexityHigh)
	p := &progress.Progress{
		TaskID:     def.ID,
		Definition: def,
		Status:     progress.StatusFailed,
		PerWorker: map[registry.Kind]*progress.WorkerRecord{
			registry.KindBackend: {Percent: 40, Status: progress.StatusFailed, FailureReason: "timeout"},
		},
		Overall: 40,
	}

	return events.Event{
		Name:    events.TaskFailed,
		TaskID:  def.ID,
		Worker:  string(registry.KindBackend),
		Payload: p,
	}
}

func TestFailureHandlerSendsAlert(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender)

	n.FailureHandler()(failedEvent())

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Subject, "deploy")
	assert.Equal(t, "oncall@example.com", sender.sent[0].Personalizations[0].To[0].Address)
}

func TestFailureHandlerIgnoresWrongPayload(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender)

	n.FailureHandler()(events.Event{Name: events.TaskFailed, Payload: "not a progress"})

	assert.Empty(t, sender.sent)
}

func TestFailureHandlerToleratesSendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("network down")}
	n := newTestNotifier(sender)

	assert.NotPanics(t, func() {
		n.FailureHandler()(failedEvent())
	})
}

func TestFailureHandlerToleratesSendgridRejection(t *testing.T) {
	sender := &fakeSender{resp: &rest.Response{StatusCode: 401}}
	n := newTestNotifier(sender)

	assert.NotPanics(t, func() {
		n.FailureHandler()(failedEvent())
	})
	assert.Len(t, sender.sent, 1)
}
