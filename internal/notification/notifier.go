// Package notification delivers opportunity alerts to external channels
// (log output, HTTP webhooks).
package notification

import (
	"context"
	"fmt"
	"log"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// FromOpportunity formats a scored opportunity as an alert. Scores at or
// above 90 are flagged critical.
func FromOpportunity(opp model.Opportunity) Alert {
	level := AlertInfo
	if opp.Score >= 90 {
		level = AlertCritical
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s (score %.0f)", opp.Symbol, opp.Type, opp.Score),
		Message: fmt.Sprintf("%+.2f%% on %d volume, confidence %.0f — %s",
			opp.PriceChangePct, opp.VolumeChange, opp.Confidence, opp.Reason),
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
