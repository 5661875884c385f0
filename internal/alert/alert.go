package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"fleetsync/internal/config"
)

// Event describes an aborted or failed sync cycle.
type Event struct {
	Collection string         `json:"collection"`
	Stage      string         `json:"stage"`
	Message    string         `json:"message"`
	At         time.Time      `json:"at"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Webhook struct {
	URL  string
	HTTP *http.Client
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := w.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("alert webhook http %d: %s", resp.StatusCode, strings.TrimSpace(string(bb)))
	}
	return nil
}

type Mailer struct {
	From string
	To   []string
	send func(m *gomail.Message) error
}

func NewMailer(cfg config.SMTPConfig) *Mailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Mailer{
		From: cfg.From,
		To:   cfg.To,
		send: func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}
}

func (m *Mailer) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", Subject(ev))
	msg.SetBody("text/plain", Body(ev))
	return m.send(msg)
}

func Subject(ev Event) string {
	return fmt.Sprintf("[fleetsync] %s %s aborted", ev.Collection, ev.Stage)
}

func Body(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "collection: %s\nstage: %s\nat: %s\n\n%s\n", ev.Collection, ev.Stage, ev.At.UTC().Format(time.RFC3339), ev.Message)
	if len(ev.Fields) > 0 {
		keys := make([]string, 0, len(ev.Fields))
		for k := range ev.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, ev.Fields[k])
		}
	}
	return b.String()
}

// New wires the notifiers the config enables; none yields Nop.
func New(cfg config.AlertConfig) Notifier {
	var out Multi
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		out = append(out, &Webhook{URL: cfg.WebhookURL, HTTP: &http.Client{Timeout: timeout}})
	}
	if strings.TrimSpace(cfg.SMTP.Host) != "" && len(cfg.SMTP.To) > 0 {
		out = append(out, NewMailer(cfg.SMTP))
	}
	if len(out) == 0 {
		return Nop{}
	}
	return out
}

// BestEffort sends ev and only logs a delivery failure.
func BestEffort(ctx context.Context, n Notifier, logger *zap.Logger, ev Event) {
	if n == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := n.Notify(ctx, ev); err != nil && logger != nil {
		logger.Warn("alert delivery failed", zap.String("collection", ev.Collection), zap.Error(err))
	}
}
