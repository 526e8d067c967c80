// Package notify delivers daily check results by email and webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/monitor"
)

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, monitor.Notification) error { return nil }

// Multi sends to every notifier and joins their errors. One failing
// channel does not stop the others.
type Multi []monitor.Notifier

func (m Multi) Notify(ctx context.Context, n monitor.Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Summary renders a plain-text digest of n.
func Summary(n monitor.Notification) string {
	var b strings.Builder
	b.WriteString("[DESCO Monitor]\n")
	fmt.Fprintf(&b, "Account: %s\n", n.Account.AccountNo)
	fmt.Fprintf(&b, "Meter: %s\n", n.Account.MeterNo)
	fmt.Fprintf(&b, "Date: %s\n", n.Date)
	fmt.Fprintf(&b, "Balance: %s BDT\n", n.Balance.StringFixed(2))
	if n.Consumption.Valid {
		fmt.Fprintf(&b, "Consumption: %s BDT\n", ledger.FormatAmount(n.Consumption))
	}
	if n.Reference != "" {
		fmt.Fprintf(&b, "Ledger: %s\n", n.Reference)
	}
	return strings.TrimSpace(b.String())
}
