package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
	"attachdl/pkg/models"
	"attachdl/pkg/ratelimit"
	"attachdl/pkg/storage"
)

// ClientOptions configures a Client. Zero values fall back to defaults.
type ClientOptions struct {
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    ratelimit.Limiter
	Logger     logger.Logger
}

// Client talks to the REST API of one org through a shared session.
type Client struct {
	httpClient *http.Client
	sessions   *SessionManager
	apiVersion string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a client. The session manager is shared with every other user of the org.
func NewClient(sessions *SessionManager, opts ClientOptions) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &Client{
		httpClient: opts.HTTPClient,
		sessions:   sessions,
		apiVersion: opts.APIVersion,
		limiter:    opts.Limiter,
		logger:     opts.Logger,
	}
}

func (c *Client) APIVersion() string {
	return c.apiVersion
}

// FetchPage returns up to limit attachments positioned after token, plus the token of the
// last returned record. A page without records keeps NextToken empty.
func (c *Client) FetchPage(ctx context.Context, token string, limit int) (models.Page, error) {
	marker, err := ParseMarker(token)
	if err != nil {
		return models.Page{}, errs.Wrap(errs.ErrorTypeMalformed, "bad cursor", err)
	}
	soql := BuildQuery(marker, limit)

	var qr QueryResponse
	err = c.getJSON(ctx, func(s *Session) string {
		return QueryURL(s.InstanceURL, c.apiVersion, soql)
	}, &qr)
	if err != nil {
		return models.Page{}, err
	}

	page := models.Page{Records: make([]models.Descriptor, 0, len(qr.Records)), Done: qr.Done}
	for _, r := range qr.Records {
		page.Records = append(page.Records, r.Descriptor(c.apiVersion))
	}

	if n := len(qr.Records); n > 0 {
		last := qr.Records[n-1]
		if !IsValidID(last.ID) || last.CreatedDate.IsZero() {
			return models.Page{}, errs.New(errs.ErrorTypeParsing, 0,
				fmt.Sprintf("last record %q cannot be used as a cursor", last.ID))
		}
		page.NextToken = Marker{CreatedDate: last.CreatedDate.Time, ID: last.ID}.Token()
	}

	c.logger.DebugWithFields("fetched attachment page", map[string]interface{}{
		"records":    len(page.Records),
		"total_size": qr.TotalSize,
		"done":       qr.Done,
		"after":      token,
	})

	return page, nil
}

// ContentRequest resolves where and how to fetch a descriptor's content with the live session.
func (c *Client) ContentRequest(ctx context.Context, d models.Descriptor) (storage.Request, error) {
	s, err := c.sessions.Current(ctx)
	if err != nil {
		return storage.Request{}, err
	}
	return storage.Request{
		URL:     s.InstanceURL + d.ContentEndpoint,
		Headers: map[string]string{"Authorization": "Bearer " + s.AccessToken},
		Token:   s.AccessToken,
	}, nil
}

// Invalidate reports that token was rejected with a 401.
func (c *Client) Invalidate(ctx context.Context, token string) error {
	_, err := c.sessions.Invalidate(ctx, token)
	return err
}

// getJSON performs an authenticated GET, renewing the session once on 401.
func (c *Client) getJSON(ctx context.Context, urlFor func(*Session) string, target interface{}) error {
	for renewed := false; ; renewed = true {
		s, err := c.sessions.Current(ctx)
		if err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := c.get(ctx, urlFor(s), s.AccessToken)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && !renewed {
			drain(resp)
			if err := c.Invalidate(ctx, s.AccessToken); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			err := c.statusError(resp)
			drain(resp)
			return err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return errs.Wrap(errs.ErrorTypeNetwork, "failed to read response body", err)
		}

		if err := json.Unmarshal(body, target); err != nil {
			preview := string(body)
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"error":        err.Error(),
				"body_preview": preview,
			})
			return errs.Wrap(errs.ErrorTypeParsing, "failed to parse JSON", err)
		}
		return nil
	}
}

func (c *Client) get(ctx context.Context, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMalformed, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "request failed", err)
	}
	logger.LogRequest(c.logger, req.Method, req.URL.Path, resp.StatusCode, time.Since(start).Milliseconds())
	return resp, nil
}

// statusError converts a non-200 response, keeping the API's own message when it sent one.
func (c *Client) statusError(resp *http.Response) error {
	e := errs.FromStatus(resp)

	var apiErrs []APIError
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		if json.Unmarshal(body, &apiErrs) == nil && len(apiErrs) > 0 {
			e.Message = fmt.Sprintf("%s: %s", apiErrs[0].ErrorCode, apiErrs[0].Message)
		}
	}

	if e.RetryAfter > 0 {
		c.limiter.Pause(e.RetryAfter)
		logger.LogRateLimit(c.logger, resp.Request.URL.Path, e.RetryAfter.Seconds())
	}
	return e
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
