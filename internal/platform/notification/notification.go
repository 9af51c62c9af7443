// Package notification alerts patients about order status changes. The
// tracker calls a Notifier exactly once per transition, so every sink behind
// it inherits the same once-per-order guarantee.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

// Notifier receives order lifecycle events.
type Notifier interface {
	// OrderReady fires when an order becomes available for pickup.
	OrderReady(ctx context.Context, order *backend.Order) error
	// OrderCompleted fires when an order reaches a terminal successful state.
	OrderCompleted(ctx context.Context, order *backend.Order) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "order-ready",
			Name:    "Order Ready for Pickup",
			Subject: "Your order #{{order_id}} is ready for pickup",
			Body:    "Your order #{{order_id}} is now available for pickup. Present your pickup code at the kiosk to collect your medications.",
		},
		{
			ID:      "order-completed",
			Name:    "Order Completed",
			Subject: "Your order #{{order_id}} has been picked up",
			Body:    "Your order #{{order_id}} has been collected. Thank you for using PharmaMat.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Email delivery
// ---------------------------------------------------------------------------

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds SMTP server settings for the go-mail client.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail through an SMTP server.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// SendEmail builds and delivers a single plain-text message.
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Notifiers
// ---------------------------------------------------------------------------

// LogNotifier writes order events to the structured log. It stands in for the
// audible chime of a foreground client and is always wired, so a completion is
// observable even with no email configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notification").Logger()}
}

func (n *LogNotifier) OrderReady(_ context.Context, order *backend.Order) error {
	n.logger.Info().
		Int64("order_id", order.ID).
		Str("status", order.Status).
		Msg("order ready for pickup")
	return nil
}

func (n *LogNotifier) OrderCompleted(_ context.Context, order *backend.Order) error {
	n.logger.Info().
		Int64("order_id", order.ID).
		Str("status", order.Status).
		Msg("order completed")
	return nil
}

// EmailNotifier renders order templates and delivers them by mail.
type EmailNotifier struct {
	sender    EmailSender
	templates *TemplateEngine
	recipient string
}

// NewEmailNotifier creates an EmailNotifier that sends to a fixed recipient.
func NewEmailNotifier(sender EmailSender, templates *TemplateEngine, recipient string) *EmailNotifier {
	return &EmailNotifier{sender: sender, templates: templates, recipient: recipient}
}

func (n *EmailNotifier) send(ctx context.Context, templateID string, order *backend.Order) error {
	subject, body, err := n.templates.Render(templateID, map[string]string{
		"order_id": fmt.Sprintf("%d", order.ID),
	})
	if err != nil {
		return err
	}
	return n.sender.SendEmail(ctx, n.recipient, subject, body)
}

func (n *EmailNotifier) OrderReady(ctx context.Context, order *backend.Order) error {
	return n.send(ctx, "order-ready", order)
}

func (n *EmailNotifier) OrderCompleted(ctx context.Context, order *backend.Order) error {
	return n.send(ctx, "order-completed", order)
}

// MultiNotifier fans an event out to several notifiers. Every notifier is
// invoked even when an earlier one fails; the first error is returned.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a MultiNotifier.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) OrderReady(ctx context.Context, order *backend.Order) error {
	var first error
	for _, n := range m.notifiers {
		if err := n.OrderReady(ctx, order); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiNotifier) OrderCompleted(ctx context.Context, order *backend.Order) error {
	var first error
	for _, n := range m.notifiers {
		if err := n.OrderCompleted(ctx, order); err != nil && first == nil {
			first = err
		}
	}
	return first
}
