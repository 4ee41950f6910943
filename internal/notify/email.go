package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"presale_sniper/internal/config"
	"presale_sniper/internal/logbus"
)

// Sender delivers composed messages. *gomail.Dialer implements it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier batches reservation events and mails one summary per batch.
type EmailNotifier struct {
	cfg    config.EmailConfig
	sender Sender
	bus    *logbus.Bus

	mu     sync.Mutex
	queue  chan ReservationEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

type EmailOption func(*EmailNotifier)

// WithSender replaces the SMTP dialer built from the config.
func WithSender(s Sender) EmailOption {
	return func(n *EmailNotifier) { n.sender = s }
}

// WithSummaryWindow sets how long the notifier waits for more events before sending.
// Zero sends every event on its own.
func WithSummaryWindow(d time.Duration) EmailOption {
	return func(n *EmailNotifier) { n.summaryWindow = d }
}

func NewEmailNotifier(cfg config.EmailConfig, bus *logbus.Bus, opts ...EmailOption) (*EmailNotifier, error) {
	if err := validateEmailConfig(cfg); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		cfg:           cfg,
		bus:           bus,
		queue:         make(chan ReservationEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: 20 * time.Second,
		maxBatch:      80,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.sender == nil {
		d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
		d.SSL = cfg.SSL
		n.sender = d
	}
	n.wg.Add(1)
	go n.loop()
	return n, nil
}

// Close flushes queued events and stops the sender loop.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyReservation(_ context.Context, evt ReservationEvent) {
	select {
	case n.queue <- evt:
	default:
		n.log("warn", "email notification dropped: queue full", map[string]any{
			"taskId":    evt.TaskID,
			"accountId": evt.AccountID,
		})
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []ReservationEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		timer.Stop()
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(reason string) {
		stopTimer()
		if len(pending) == 0 {
			return
		}
		events := append([]ReservationEvent(nil), pending...)
		pending = pending[:0]
		n.send(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
		drain:
			for {
				select {
				case evt := <-n.queue:
					pending = append(pending, evt)
				default:
					break drain
				}
			}
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			switch {
			case n.maxBatch > 0 && len(pending) >= n.maxBatch:
				flush("max")
			case n.summaryWindow <= 0:
				flush("immediate")
			default:
				resetTimer()
			}
		case <-timerCh:
			timer, timerCh = nil, nil
			flush("idle")
		}
	}
}

func (n *EmailNotifier) send(reason string, events []ReservationEvent) {
	msg, err := n.compose(events)
	if err != nil {
		n.log("warn", "email compose failed", map[string]any{"error": err.Error()})
		return
	}
	if err := n.sender.DialAndSend(msg); err != nil {
		n.log("warn", "email send failed", map[string]any{
			"error":  err.Error(),
			"count":  len(events),
			"reason": reason,
		})
		return
	}
	n.log("info", "notification email sent", map[string]any{
		"count":  len(events),
		"reason": reason,
		"to":     strings.Join(n.cfg.To, ","),
	})
}

func (n *EmailNotifier) compose(events []ReservationEvent) (*gomail.Message, error) {
	htmlBody, textBody, err := buildSummaryBody(events)
	if err != nil {
		return nil, err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(n.cfg.From, "Presale Sniper"))
	msg.SetHeader("To", n.cfg.To...)
	msg.SetHeader("Subject", buildSummarySubject(events))
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)
	return msg, nil
}

func (n *EmailNotifier) log(level, msg string, fields map[string]any) {
	if n.bus != nil {
		n.bus.Log(level, msg, fields)
	}
}

func validateEmailConfig(c config.EmailConfig) error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("email host is required")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if len(c.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, to := range c.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("invalid recipient %q: %w", to, err)
		}
	}
	return nil
}

func buildSummarySubject(events []ReservationEvent) string {
	if len(events) == 1 {
		e := events[0]
		return fmt.Sprintf("Reserved %d × %s", e.Quantity, orID(e.VariantName, e.InventoryID))
	}
	return fmt.Sprintf("Reservation summary (%d)", len(events))
}

const stampLayout = "2006-01-02 15:04:05"

var summaryHTMLTpl = template.Must(template.New("summary").Parse(`<!doctype html>
<html lang="en">
<body style="font-family:Arial,sans-serif;color:#1f2933;">
  <h3 style="margin:0 0 8px;">{{ .Count }} reservation(s), {{ .Quantity }} ticket(s)</h3>
  <p style="margin:0 0 12px;color:#52606d;">{{ .First }} to {{ .Last }}</p>
  {{ range .Sales }}
  <h4 style="margin:16px 0 4px;">{{ .Name }}</h4>
  <ul style="margin:0;padding-left:18px;">
    {{ range .Lines }}<li>{{ .At }} {{ .Account }}: {{ .Quantity }} × {{ .Variant }}</li>
    {{ end }}
  </ul>
  {{ end }}
</body>
</html>
`))

type summaryLine struct {
	At       string
	Account  string
	Variant  string
	Quantity int64
}

type saleSection struct {
	Name  string
	Lines []summaryLine
}

type summary struct {
	Count    int
	Quantity int64
	First    string
	Last     string
	Sales    []saleSection
}

// summarize groups events by sale, keeping the order in which sales first appear.
func summarize(events []ReservationEvent) summary {
	out := summary{Count: len(events)}
	index := map[string]int{}
	var first, last time.Time
	for _, evt := range events {
		at := evt.At
		if at.IsZero() {
			at = time.Now()
		}
		if first.IsZero() || at.Before(first) {
			first = at
		}
		if at.After(last) {
			last = at
		}
		out.Quantity += evt.Quantity

		i, ok := index[evt.SaleID]
		if !ok {
			i = len(out.Sales)
			index[evt.SaleID] = i
			out.Sales = append(out.Sales, saleSection{Name: orID(evt.SaleName, evt.SaleID)})
		}
		out.Sales[i].Lines = append(out.Sales[i].Lines, summaryLine{
			At:       at.Format(stampLayout),
			Account:  orID(evt.AccountName, evt.AccountID),
			Variant:  orID(evt.VariantName, evt.InventoryID),
			Quantity: evt.Quantity,
		})
	}
	out.First = first.Format(stampLayout)
	out.Last = last.Format(stampLayout)
	return out
}

func buildSummaryBody(events []ReservationEvent) (htmlBody, textBody string, err error) {
	if len(events) == 0 {
		return "", "", errors.New("no events")
	}
	sum := summarize(events)

	var buf bytes.Buffer
	if err := summaryHTMLTpl.Execute(&buf, sum); err != nil {
		return "", "", err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%d reservation(s), %d ticket(s), %s to %s\n", sum.Count, sum.Quantity, sum.First, sum.Last)
	for _, sale := range sum.Sales {
		fmt.Fprintf(&text, "\n%s\n", sale.Name)
		for _, l := range sale.Lines {
			fmt.Fprintf(&text, "  %s %s: %d × %s\n", l.At, l.Account, l.Quantity, l.Variant)
		}
	}
	return buf.String(), text.String(), nil
}

// orID returns name, or id when name is blank.
func orID(name, id string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return strings.TrimSpace(id)
}
