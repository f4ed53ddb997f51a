// Package notifier fans events out to the configured external channels
// (email, webhook, slack) — spec.md's "opaque notifier capability",
// explicitly named out of scope for the core's own concern but still a
// closed, typed surface the rest of the daemon calls through. It is
// grounded on the teacher's server/internal/notification package: a
// config-driven sender per channel, errors logged rather than propagated so
// one channel's outage never blocks another's. Senders are built once, in
// New, from the Config passed to it; a running Service does not pick up
// later settings changes.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/pipeline"
)

// Channel names the closed set of delivery mechanisms spec.md §6 allows in
// notify_methods.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
)

// Config carries every per-channel setting, populated from config.Config.
type Config struct {
	AlertEnabled bool
	AlertEmail   string
	Methods      []Channel

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      bool

	WebhookURL    string
	WebhookSecret string

	SlackWebhookURL string
}

func (c Config) enabled(ch Channel) bool {
	for _, m := range c.Methods {
		if m == ch {
			return true
		}
	}
	return false
}

// Service fans pipeline.Event and report submissions out to every enabled
// channel. It implements pipeline.Notifier.
type Service struct {
	cfg     Config
	email   *emailSender
	webhook *webhookSender
	slack   *slackSender
	logger  *zap.Logger
}

// New builds a Service from cfg.
func New(cfg Config, logger *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		email:   newEmailSender(cfg),
		webhook: newWebhookSender(cfg.WebhookURL, cfg.WebhookSecret),
		slack:   newSlackSender(cfg.SlackWebhookURL),
		logger:  logger.Named("notifier"),
	}
}

// Notify implements pipeline.Notifier. A "backup-ok" event is delivered
// only when alerts are globally enabled or the event carries Force (set
// by the pipeline when the host roster entry has --notify-ok); failures
// and credential errors are always delivered (spec.md §4.1's
// "--notify-ok... enables success-notifications... even when globally
// suppressed" implies the inverse holds for failures by default).
func (s *Service) Notify(ctx context.Context, ev pipeline.Event) error {
	if ev.Kind == "backup-ok" && !s.cfg.AlertEnabled && !ev.Force {
		return nil
	}

	title, body := renderEvent(ev)
	to := s.recipientEmail(ev)
	level := levelFor(ev.Kind)

	s.deliver(ctx, level, title, body, to)
	return nil
}

// SendReport delivers a rendered daily report (internal/reporter) at the
// given level ("info" or "error"), per spec.md §4.9.
func (s *Service) SendReport(ctx context.Context, title, body string, level string, to string) {
	s.deliver(ctx, level, title, body, to)
}

func (s *Service) deliver(ctx context.Context, level, title, body, to string) {
	if s.cfg.enabled(ChannelEmail) {
		if err := s.email.Send(ctx, to, title, body); err != nil {
			s.logger.Warn("email delivery failed", zap.Error(err))
		}
	}
	if s.cfg.enabled(ChannelWebhook) {
		if err := s.webhook.Send(ctx, level, title, body); err != nil {
			s.logger.Warn("webhook delivery failed", zap.Error(err))
		}
	}
	if s.cfg.enabled(ChannelSlack) {
		if err := s.slack.Send(ctx, title, body); err != nil {
			s.logger.Warn("slack delivery failed", zap.Error(err))
		}
	}
}

func (s *Service) recipientEmail(ev pipeline.Event) string {
	if ev.Recipient != "" {
		return ev.Recipient
	}
	return s.cfg.AlertEmail
}

func levelFor(kind string) string {
	switch kind {
	case "backup-fail", "credential-fail":
		return "error"
	default:
		return "info"
	}
}

func renderEvent(ev pipeline.Event) (title, body string) {
	switch ev.Kind {
	case "backup-ok":
		return "backup ok: " + ev.Hostname, ev.Message
	case "backup-fail":
		body := ev.Message
		if ev.Detail != "" {
			body += "\n\n" + ev.Detail
		}
		return "backup failed: " + ev.Hostname, body
	case "credential-fail":
		return "credential error: " + ev.Hostname, ev.Message
	default:
		return ev.Kind + ": " + ev.Hostname, ev.Message
	}
}
