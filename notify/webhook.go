package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/monitor"
)

// Webhook posts the check result as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	AccountNo   string `json:"account_no"`
	MeterNo     string `json:"meter_no"`
	Date        string `json:"date"`
	Balance     string `json:"balance"`
	Consumption string `json:"consumption,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Text        string `json:"text"`
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify sends the payload to the webhook.
func (w *Webhook) Notify(ctx context.Context, n monitor.Notification) error {
	if w == nil || w.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	payload := webhookPayload{
		AccountNo:   n.Account.AccountNo,
		MeterNo:     n.Account.MeterNo,
		Date:        n.Date.String(),
		Balance:     n.Balance.StringFixed(2),
		Consumption: ledger.FormatAmount(n.Consumption),
		Reference:   n.Reference,
		Text:        Summary(n),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notifier: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}
