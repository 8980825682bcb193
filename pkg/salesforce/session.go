package salesforce

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
)

// Session is an authenticated connection to one org instance.
type Session struct {
	InstanceURL string
	AccessToken string
	IssuedAt    time.Time
}

// Authenticator obtains a fresh session.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Session, error)
}

// StaticSession hands out a pre-issued token. It cannot renew it, so a second 401 is final.
type StaticSession struct {
	InstanceURL string
	AccessToken string
}

func (s StaticSession) Authenticate(ctx context.Context) (*Session, error) {
	if s.InstanceURL == "" || s.AccessToken == "" {
		return nil, errs.New(errs.ErrorTypeAuth, 0, "instance url and access token are required")
	}
	return &Session{InstanceURL: s.InstanceURL, AccessToken: s.AccessToken, IssuedAt: time.Now()}, nil
}

// SOAPLogin performs the partner API username/password login.
type SOAPLogin struct {
	LoginURL   string
	APIVersion string
	Username   string
	// Password is sent with the security token appended
	Password      string
	SecurityToken string
	HTTPClient    *http.Client
}

type loginEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		LoginResponse *struct {
			Result struct {
				ServerURL string `xml:"serverUrl"`
				SessionID string `xml:"sessionId"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

const loginTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:urn="urn:partner.soap.sforce.com">
  <soapenv:Header>
    <urn:CallOptions><urn:client>attachdl</urn:client></urn:CallOptions>
  </soapenv:Header>
  <soapenv:Body>
    <urn:login>
      <urn:username>%s</urn:username>
      <urn:password>%s</urn:password>
    </urn:login>
  </soapenv:Body>
</soapenv:Envelope>`

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// Authenticate logs in and returns the session. A SOAP fault is an auth error and is not retried.
func (l *SOAPLogin) Authenticate(ctx context.Context) (*Session, error) {
	version := l.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	client := l.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	body := fmt.Sprintf(loginTemplate, xmlEscape(l.Username), xmlEscape(l.Password+l.SecurityToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, LoginEndpoint(l.LoginURL, version), bytes.NewBufferString(body))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMalformed, "failed to create login request", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "login request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "failed to read login response", err)
	}

	var env loginEnvelope
	if xmlErr := xml.Unmarshal(data, &env); xmlErr == nil {
		if f := env.Body.Fault; f != nil {
			return nil, errs.New(errs.ErrorTypeAuth, resp.StatusCode, fmt.Sprintf("login fault %s: %s", f.Code, f.String))
		}
		if r := env.Body.LoginResponse; r != nil && r.Result.SessionID != "" {
			return &Session{
				InstanceURL: InstanceFromServerURL(r.Result.ServerURL),
				AccessToken: r.Result.SessionID,
				IssuedAt:    time.Now(),
			}, nil
		}
	}

	if resp.StatusCode >= 300 {
		return nil, errs.FromStatus(resp)
	}
	return nil, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "login response carried no session")
}

// SessionManager shares one session between all goroutines and renews it at most once
// per expiry, however many callers notice the expiry at the same time.
type SessionManager struct {
	auth    Authenticator
	logger  logger.Logger
	mu      sync.Mutex
	current *Session
	renewed int
}

func NewSessionManager(auth Authenticator, log logger.Logger) *SessionManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SessionManager{auth: auth, logger: log}
}

// Current returns the live session, authenticating on first use.
func (m *SessionManager) Current(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current, nil
	}
	return m.authenticate(ctx)
}

// Invalidate reports that stale was rejected. If another caller already replaced it the
// newer session is returned without logging in again.
func (m *SessionManager) Invalidate(ctx context.Context, staleToken string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.AccessToken != staleToken {
		return m.current, nil
	}

	m.logger.Info("session expired, re-authenticating")
	m.current = nil
	s, err := m.authenticate(ctx)
	if err == nil {
		m.renewed++
	}
	return s, err
}

// Renewals counts successful re-authentications.
func (m *SessionManager) Renewals() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renewed
}

func (m *SessionManager) authenticate(ctx context.Context) (*Session, error) {
	s, err := m.auth.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	m.current = s
	m.logger.DebugWithFields("authenticated", map[string]interface{}{
		"instance_url": s.InstanceURL,
	})
	return s, nil
}
