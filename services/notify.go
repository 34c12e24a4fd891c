package services

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"citypulse/config"
	"citypulse/models"
	"citypulse/utils"
)

// Notifier receives the statistics of a completed cycle. It is invoked at
// most once per cycle, after the audit row has been persisted; its failure
// never invalidates the cycle.
type Notifier interface {
	Notify(ctx context.Context, report *models.SyncReport, totalRecords int) error
}

// EmailNotifier sends an HTML report over SMTP after each cycle.
type EmailNotifier struct {
	host     string
	port     string
	user     string
	password string
	to       string
	logger   *utils.Logger
}

// NewNotifier returns an EmailNotifier when SMTP is configured, or a
// log-only fallback otherwise.
func NewNotifier(cfg *config.Config, logger *utils.Logger) Notifier {
	if cfg.SMTPHost == "" || cfg.ReportEmail == "" {
		logger.Info("[notify] SMTP not configured — cycle reports go to the log only")
		return &LogNotifier{logger: logger}
	}
	return &EmailNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		to:       cfg.ReportEmail,
		logger:   logger,
	}
}

// Notify sends the cycle report email.
func (n *EmailNotifier) Notify(_ context.Context, report *models.SyncReport, totalRecords int) error {
	subject := fmt.Sprintf("CityPulse: %d records in catalog", totalRecords)
	body := buildReportHTML(report, totalRecords)

	msg := strings.Join([]string{
		"From: " + n.user,
		"To: " + n.to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	addr := n.host + ":" + n.port
	auth := smtp.PlainAuth("", n.user, n.password, n.host)
	if err := smtp.SendMail(addr, auth, n.user, []string{n.to}, []byte(msg)); err != nil {
		return fmt.Errorf("notify: send mail: %w", err)
	}

	n.logger.Info("[notify] Cycle report sent to %s", n.to)
	return nil
}

func buildReportHTML(report *models.SyncReport, totalRecords int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body style="font-family: sans-serif; color: #333;">`)
	fmt.Fprintf(&b, `<h2>CityPulse — update cycle completed</h2>`)
	fmt.Fprintf(&b, `<p><b>Catalog size:</b> %d records</p>`, totalRecords)
	if report != nil {
		fmt.Fprintf(&b, `<p>Found %d, new %d, updated %d, events %d, skipped %d.</p>`,
			report.TotalFound, report.TotalNew, report.TotalUpdated,
			report.EventsFound, report.Skipped)
	}
	fmt.Fprintf(&b, `<p style="font-size: 12px; color: #666;">Generated %s</p>`,
		time.Now().Format("02/01/2006 15:04:05"))
	fmt.Fprintf(&b, `</body></html>`)
	return b.String()
}

// LogNotifier writes the cycle report to the application log.
type LogNotifier struct {
	logger *utils.Logger
}

// Notify logs the cycle statistics.
func (n *LogNotifier) Notify(_ context.Context, report *models.SyncReport, totalRecords int) error {
	if report == nil {
		n.logger.Info("[notify] Cycle complete — %d records in catalog", totalRecords)
		return nil
	}
	n.logger.Info("[notify] Cycle complete — %d records in catalog (found %d, new %d, updated %d, events %d)",
		totalRecords, report.TotalFound, report.TotalNew, report.TotalUpdated, report.EventsFound)
	return nil
}
