package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/wneessen/go-mail"

	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/monitor"
)

// DefaultSubject matches the subject the monitor has always used.
const DefaultSubject = "DESCO Balance & Daily Usage"

// EmailConfig describes the SMTP relay and the message envelope.
type EmailConfig struct {
	Host     string
	Port     int
	SSL      bool // implicit TLS (port 465); otherwise STARTTLS is required
	Username string
	Password string
	From     string
	To       []string
	Subject  string
	Timeout  time.Duration

	// AttachLedger attaches the ledger file when the store is file-backed.
	AttachLedger bool
}

// Email sends an HTML summary over SMTP.
type Email struct {
	cfg  EmailConfig
	fs   afero.Fs
	send func(ctx context.Context, m *mail.Msg) error
}

// EmailOption configures an Email notifier.
type EmailOption func(*Email)

// WithSendFunc replaces SMTP delivery, e.g. in tests.
func WithSendFunc(fn func(ctx context.Context, m *mail.Msg) error) EmailOption {
	return func(e *Email) { e.send = fn }
}

// WithAttachmentFs sets the filesystem used to check attachments exist.
func WithAttachmentFs(fs afero.Fs) EmailOption {
	return func(e *Email) { e.fs = fs }
}

func NewEmail(cfg EmailConfig, opts ...EmailOption) (*Email, error) {
	if cfg.Host == "" {
		return nil, errors.New("email notifier: empty smtp host")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("email notifier: sender and recipient are required")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	e := &Email{cfg: cfg, fs: afero.NewOsFs()}
	e.send = e.dialAndSend
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Notify builds the message and delivers it.
func (e *Email) Notify(ctx context.Context, n monitor.Notification) error {
	m, err := e.message(n)
	if err != nil {
		return err
	}
	if err := e.send(ctx, m); err != nil {
		return fmt.Errorf("email notifier: %w", err)
	}
	return nil
}

func (e *Email) message(n monitor.Notification) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("email notifier: from: %w", err)
	}
	if err := m.To(e.cfg.To...); err != nil {
		return nil, fmt.Errorf("email notifier: to: %w", err)
	}
	m.Subject(e.cfg.Subject)
	m.SetDate()

	body, err := RenderEmailBody(n)
	if err != nil {
		return nil, err
	}
	m.SetBodyString(mail.TypeTextPlain, Summary(n))
	m.AddAlternativeString(mail.TypeTextHTML, body)

	if e.cfg.AttachLedger && n.Attachment != "" {
		if ok, _ := afero.Exists(e.fs, n.Attachment); ok {
			m.AttachFile(n.Attachment, mail.WithFileName(filepath.Base(n.Attachment)))
		}
	}
	return m, nil
}

func (e *Email) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithTimeout(e.cfg.Timeout),
	}
	if e.cfg.SSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}

	c, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, m)
}

// =============================================================================
// BODY
// =============================================================================

var bodyTemplate = template.Must(template.New("email").Parse(`<html>
  <body>
    <p>Hello,</p>
    <p>Account No: <b>{{.AccountNo}}</b><br>
       Meter No: <b>{{.MeterNo}}</b><br>
       System Type: <b>{{.SystemType}}</b>
    </p>
    <p>Your current DESCO prepaid balance is
       <span style="color: red; font-weight: bold;">{{.Balance}} BDT</span>.
    </p>
    {{- if .Consumption}}
    <p>Consumption on {{.Date}}: <b>{{.Consumption}} BDT</b></p>
    {{- end}}
    {{- if .Link}}
    <p>Daily consumption has been updated in the ledger.<br>
       <a href="{{.Link}}">{{.Link}}</a>
    </p>
    {{- else if .Reference}}
    <p>Daily consumption has been updated in the ledger.<br>
       File Location: {{.Reference}}
    </p>
    {{- end}}
    <p>Regards,<br>DESCO Monitor</p>
  </body>
</html>
`))

type bodyData struct {
	AccountNo   string
	MeterNo     string
	SystemType  string
	Balance     string
	Consumption string
	Date        string
	Link        string
	Reference   string
}

// RenderEmailBody renders the HTML body for n.
func RenderEmailBody(n monitor.Notification) (string, error) {
	data := bodyData{
		AccountNo:   n.Account.AccountNo,
		MeterNo:     n.Account.MeterNo,
		SystemType:  strings.ToUpper(n.Account.SystemType),
		Balance:     n.Balance.StringFixed(2),
		Consumption: ledger.FormatAmount(n.Consumption),
		Date:        n.Date.String(),
		Reference:   n.Reference,
	}
	if strings.HasPrefix(n.Reference, "http://") || strings.HasPrefix(n.Reference, "https://") {
		data.Link = n.Reference
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("email notifier: render body: %w", err)
	}
	return buf.String(), nil
}
