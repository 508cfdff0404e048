// Package mailer sends access-link emails to readers over SMTP.
package mailer

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/qalampress/bookvault/internal/config"
)

// Mailer composes and delivers reader-facing emails.
type Mailer struct {
	cfg       *config.NotificationsConfig
	publicURL string
}

// New creates a Mailer. publicURL is the externally reachable base URL the
// access links are built against.
func New(cfg *config.NotificationsConfig, publicURL string) *Mailer {
	return &Mailer{cfg: cfg, publicURL: strings.TrimRight(publicURL, "/")}
}

// Enabled reports whether outbound mail is configured. Callers should treat a
// disabled mailer as a soft condition and log rather than fail the request.
func (m *Mailer) Enabled() bool {
	return m.cfg.Enabled && m.cfg.SMTP.Host != ""
}

// AccessLink builds the tokenized URL a reader follows to open their session.
func (m *Mailer) AccessLink(signedToken string) string {
	return fmt.Sprintf("%s/access?token=%s", m.publicURL, url.QueryEscape(signedToken))
}

// SendAccessLink emails a fresh access link to a reader. linkTTL is included
// in the message so the reader knows how long the link stays valid.
func (m *Mailer) SendAccessLink(toEmail, signedToken string, linkTTL time.Duration) error {
	if !m.Enabled() {
		return fmt.Errorf("mailer is not configured")
	}

	link := m.AccessLink(signedToken)
	minutes := int(linkTTL.Minutes())

	subject := "Your reading access link"
	body := strings.Join([]string{
		"Hello,",
		"",
		"Use the link below to open your book:",
		"",
		"  " + link,
		"",
		fmt.Sprintf("The link is valid for %d minutes. If it expires, request a new one from the access page.", minutes),
		"",
		"If you did not request this email, you can safely ignore it.",
		"",
		"— Qalam Press",
	}, "\r\n")

	smtpCfg := &m.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, toEmail, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	auth := smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, []string{toEmail}, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, []string{toEmail}, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// For port 587 STARTTLS, smtp.SendMail handles the upgrade automatically, but
// this path is used for both so the config is unambiguous: UseTLS=true always
// means an encrypted connection.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard smtp.SendMail path (port 587 pattern)
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
