// Package skynet is a client for uploading files to a Skynet portal.
//
// A Client owns one HTTP session, created on first use and released by
// Close. It is safe for concurrent use; requests share the session and
// nothing is retried, so retry policy belongs to the caller.
package skynet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPortalURL is the portal used when none is configured.
	DefaultPortalURL = "https://siasky.net"

	uploadPath = "/skynet/skyfile"
	sniffLen   = 512
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Client represents a Skynet portal client
type Client struct {
	portalURL string
	apiKey    string
	logger    logrus.FieldLogger

	mu          sync.Mutex
	session     *http.Client
	ownsSession bool
	closed      bool
}

var _ ClientAPI = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithPortalURL targets a portal other than DefaultPortalURL.
func WithPortalURL(portalURL string) Option {
	return func(c *Client) {
		if portalURL != "" {
			c.portalURL = strings.TrimRight(portalURL, "/")
		}
	}
}

// WithAPIKey authenticates requests with the portal API key.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithHTTPClient makes the client use httpClient as its session instead of
// building one on first use. Close does not tear down a supplied session.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.session = httpClient
			c.ownsSession = false
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new Skynet client
func NewClient(opts ...Option) *Client {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Client{
		portalURL: DefaultPortalURL,
		logger:    discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PortalURL returns the portal the client talks to.
func (c *Client) PortalURL() string {
	return c.portalURL
}

// SkylinkURL returns the download URL of skylink on the client's portal.
func (c *Client) SkylinkURL(skylink Skylink) string {
	return skylink.HTTP(c.portalURL)
}

// acquireSession returns the shared HTTP session, opening it on first use.
func (c *Client) acquireSession() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.session == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		c.session = &http.Client{Transport: transport}
		c.ownsSession = true
		c.logger.WithField("portal", c.portalURL).Debug("opened portal session")
	}
	return c.session, nil
}

// Close releases the session. It is idempotent; every later upload fails
// with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.session != nil && c.ownsSession {
		c.session.CloseIdleConnections()
		c.logger.WithField("portal", c.portalURL).Debug("closed portal session")
	}
	c.session = nil
	return nil
}

// UploadFile uploads file as a multipart form and returns the portal's
// reply. The request is bound to ctx; cancelling it aborts the upload and
// leaves file.Content partially read.
func (c *Client) UploadFile(ctx context.Context, file File) (*Response, error) {
	if err := file.validate(); err != nil {
		return nil, err
	}

	session, err := c.acquireSession()
	if err != nil {
		return nil, err
	}

	if err := file.rewind(); err != nil {
		return nil, err
	}

	content := bufio.NewReaderSize(file.Content, sniffLen)
	head, err := content.Peek(sniffLen)
	if err != nil && err != io.EOF {
		return nil, &InputError{Field: "content", Err: err}
	}
	contentType := mimetype.Detect(head).String()

	endpoint := c.uploadURL(file.Name)
	logger := c.logger.WithFields(logrus.Fields{
		"file":         file.Name,
		"content_type": contentType,
	})

	body, pw := io.Pipe()
	defer body.Close()

	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(writer, file.Name, contentType, content))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &TransportError{Op: "POST", URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, "")
	}

	logger.Debug("uploading file")
	resp, err := session.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "POST", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", URL: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithField("status", resp.StatusCode).Debug("upload rejected")
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       payload,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	result, err := parseResponse(payload)
	if err != nil {
		return nil, err
	}

	logger.WithField("skylink", result.Skylink).Debug("upload done")
	return result, nil
}

func (c *Client) uploadURL(name string) string {
	segments := strings.Split(strings.Trim(name, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s%s/%s", c.portalURL, uploadPath, strings.Join(segments, "/"))
}

// writeForm streams a single-part form carrying content under name.
func writeForm(writer *multipart.Writer, name, contentType string, content io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(name), quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return writer.Close()
}
