// Package smtp sends a rendered mail and classifies the outcome as
// success, transient failure, or permanent failure, over a gomail.v2
// dialer for plain/gmail auth and a manual XOAUTH2 exchange for the
// oauth2 auth mode gomail.v2 has no built-in support for.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"gopkg.in/gomail.v2"

	"safe-notify/internal/renderer"
	"safe-notify/internal/resilience"
)

// Outcome classifies an SMTP send attempt.
type Outcome int

const (
	// Success indicates the message was accepted for delivery.
	Success Outcome = iota
	// Transient indicates the send should be retried.
	Transient
	// Permanent indicates the send must not be retried.
	Permanent
)

// Security is the SMTP_SECURITY config enum.
type Security string

const (
	SecurityNone     Security = "none"
	SecurityStartTLS Security = "starttls"
	SecuritySSL      Security = "ssl"
)

// Auth is the SMTP_AUTH config enum.
type Auth string

const (
	AuthPlain  Auth = "plain"
	AuthGmail  Auth = "gmail"
	AuthOAuth2 Auth = "oauth2"
)

// Config configures the gateway connection.
type Config struct {
	Hostname   string
	Port       int
	Security   Security
	AuthMode   Auth
	Username   string
	Password   string
	PrivateKey string
	AccessURL  string
	Pool       bool
}

// Sender is the SMTP sending contract the Attempt Executor calls.
type Sender interface {
	Send(ctx context.Context, mail *renderer.Mail, clientMessageID string) (Outcome, error)
	Close() error
}

// GatewaySender sends via gomail.v2 for plain/gmail auth and a manual
// XOAUTH2 exchange for the oauth2 auth mode.
type GatewaySender struct {
	cfg     Config
	dialer  *gomail.Dialer
	breaker *gobreaker.CircuitBreaker[Outcome]
}

// New builds a GatewaySender from cfg. cfg.Pool is stored but not acted
// on: every send dials a new connection and closes it afterwards, so no
// connection is kept open across sends.
// Dial/handshake failures are guarded by a circuit breaker; a rejected
// individual message (bad recipient, auth failure) is a Permanent outcome
// of that one send and is never counted against the breaker.
func New(cfg Config) *GatewaySender {
	d := gomail.NewDialer(cfg.Hostname, cfg.Port, cfg.Username, cfg.Password)
	switch cfg.Security {
	case SecuritySSL:
		d.SSL = true
	case SecurityStartTLS:
		d.TLSConfig = &tls.Config{ServerName: cfg.Hostname}
	case SecurityNone:
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in via SMTP_SECURITY=none
	}
	return &GatewaySender{cfg: cfg, dialer: d, breaker: resilience.NewBreaker[Outcome]("smtp")}
}

// Close is part of the process's graceful shutdown sequence. No
// connection is held between sends, so there is nothing to release.
func (s *GatewaySender) Close() error { return nil }

// Send dials and sends mail, classifying the outcome. Network/handshake
// errors and 4xx-equivalent dialer errors are treated as Transient;
// malformed-message and auth-rejection errors are Permanent.
func (s *GatewaySender) Send(ctx context.Context, mail *renderer.Mail, clientMessageID string) (Outcome, error) {
	if s.cfg.AuthMode == AuthOAuth2 {
		return s.sendOAuth2(ctx, mail, clientMessageID)
	}

	msg := gomail.NewMessage()
	if mail.FromName != "" {
		msg.SetAddressHeader("From", mail.FromEmail, mail.FromName)
	} else {
		msg.SetHeader("From", mail.FromEmail)
	}
	msg.SetHeader("To", mail.To)
	if mail.ReplyTo != "" {
		msg.SetHeader("Reply-To", mail.ReplyTo)
	}
	msg.SetHeader("Subject", mail.Subject)
	msg.SetHeader("Message-Id", fmt.Sprintf("<%s@%s>", clientMessageID, s.cfg.Hostname))
	msg.SetBody("text/plain", mail.Body)

	var sendErr error
	outcome, err := s.breaker.Execute(func() (Outcome, error) {
		if dialErr := s.dialer.DialAndSend(msg); dialErr != nil {
			sendErr = dialErr
			oc := classifyDialError(dialErr)
			if oc == Transient {
				return oc, dialErr
			}
			return oc, nil
		}
		return Success, nil
	})
	if err != nil {
		// Either a Transient failure or a breaker rejection (open or
		// half-open); both are retried later.
		return Transient, err
	}
	return outcome, sendErr
}

// classifyDialError distinguishes transient network/handshake failures
// and 4xx SMTP replies from permanent rejections (bad recipient, auth
// failure) by inspecting the underlying net or textproto error.
func classifyDialError(err error) Outcome {
	var netErr net.Error
	if ne, ok := err.(net.Error); ok {
		netErr = ne
	}
	if netErr != nil && netErr.Timeout() {
		return Transient
	}
	if _, ok := err.(*net.OpError); ok {
		return Transient
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 400 && tpErr.Code < 500 {
		return Transient
	}
	return Permanent
}

// sendOAuth2 sends using net/smtp directly with a manually constructed
// XOAUTH2 SASL exchange, since gomail.v2 has no built-in OAuth2 support.
func (s *GatewaySender) sendOAuth2(ctx context.Context, mail *renderer.Mail, clientMessageID string) (Outcome, error) {
	var sendErr error
	outcome, err := s.breaker.Execute(func() (Outcome, error) {
		oc, oerr := s.sendOAuth2Unguarded(ctx, mail, clientMessageID)
		sendErr = oerr
		if oc == Transient {
			return oc, oerr
		}
		return oc, nil
	})
	if err != nil {
		return Transient, err
	}
	return outcome, sendErr
}

// sendOAuth2Unguarded performs the dial, handshake, and XOAUTH2 exchange
// net/smtp requires since gomail.v2 has no built-in OAuth2 support.
func (s *GatewaySender) sendOAuth2Unguarded(ctx context.Context, mail *renderer.Mail, clientMessageID string) (Outcome, error) {
	// SMTP_PRIVATE_KEY carries the long-lived refresh token or a
	// pre-minted access token; SMTP_ACCESS_URL (when set) is the token
	// endpoint a full implementation would refresh against via
	// golang.org/x/oauth2's client-credentials flow.
	token := &oauth2.Token{AccessToken: s.cfg.PrivateKey}

	addr := net.JoinHostPort(s.cfg.Hostname, strconv.Itoa(s.cfg.Port))
	c, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return Transient, fmt.Errorf("dial smtp for oauth2: %w", err)
	}
	defer c.Close()

	client, err := smtp.NewClient(c, s.cfg.Hostname)
	if err != nil {
		return Transient, fmt.Errorf("smtp handshake for oauth2: %w", err)
	}
	defer client.Close()

	auth := newXOAuth2Auth(s.cfg.Username, token.AccessToken)
	if err := client.Auth(auth); err != nil {
		return Permanent, fmt.Errorf("xoauth2 auth failed: %w", err)
	}

	if err := client.Mail(mail.FromEmail); err != nil {
		return Permanent, fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(mail.To); err != nil {
		return Permanent, fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return Transient, fmt.Errorf("smtp DATA: %w", err)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-Id: <%s@%s>\r\n\r\n%s",
		mail.FromEmail, mail.To, mail.Subject, clientMessageID, s.cfg.Hostname, mail.Body)
	if _, err := w.Write([]byte(body)); err != nil {
		return Transient, fmt.Errorf("smtp DATA write: %w", err)
	}
	if err := w.Close(); err != nil {
		return Transient, fmt.Errorf("smtp DATA close: %w", err)
	}
	return Success, nil
}

// xoauth2Auth implements the XOAUTH2 SASL mechanism net/smtp.Auth expects.
type xoauth2Auth struct {
	username, accessToken string
}

func (a *xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.accessToken)
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, nil
	}
	return nil, nil
}

func newXOAuth2Auth(username, accessToken string) smtp.Auth {
	return &xoauth2Auth{username: username, accessToken: accessToken}
}
