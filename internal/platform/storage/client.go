// Package storage uploads and deletes partner images on Cloudinary.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mercadoparceiro/api/internal/platform/observability"
)

const (
	defaultBaseURL = "https://api.cloudinary.com"
	defaultTimeout = 30 * time.Second
)

var (
	errNoSigner       = errors.New("storage: signer is required")
	errNoCloud        = errors.New("storage: cloud name is required")
	errInvalidFolder  = errors.New("storage: folder is required")
	errInvalidPublic  = errors.New("storage: public id is required")
	errEmptyPayload   = errors.New("storage: image payload is empty")
	errInvalidFile    = errors.New("storage: file name is required")
	ErrRemoteRejected = errors.New("storage: cloudinary rejected the request")
)

// Client talks to the Cloudinary upload API.
type Client struct {
	signer     *Signer
	cloudName  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithBaseURL points the client at another API host (tests).
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a Cloudinary client for cloudName.
func NewClient(signer *Signer, cloudName string, opts ...ClientOption) (*Client, error) {
	if signer == nil {
		return nil, errNoSigner
	}
	cloudName = strings.TrimSpace(cloudName)
	if cloudName == "" {
		return nil, errNoCloud
	}
	client := &Client{
		signer:     signer,
		cloudName:  cloudName,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// UploadRequest describes one image upload.
type UploadRequest struct {
	Folder   string
	FileName string
	Data     []byte
}

// UploadResult is the subset of the Cloudinary response the API keeps.
type UploadResult struct {
	URL      string
	PublicID string
	Width    int
	Height   int
	Bytes    int64
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload sends a signed multipart upload. The signature covers folder and timestamp.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	folder := strings.Trim(strings.TrimSpace(req.Folder), "/")
	if folder == "" {
		return UploadResult{}, errInvalidFolder
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		return UploadResult{}, errInvalidFile
	}
	if len(req.Data) == 0 {
		return UploadResult{}, errEmptyPayload
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	signature := c.signer.Sign(map[string]string{"folder": folder, "timestamp": timestamp})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := [][2]string{
		{"api_key", c.signer.APIKey()},
		{"timestamp", timestamp},
		{"folder", folder},
		{"signature", signature},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return UploadResult{}, fmt.Errorf("storage: build form: %w", err)
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return UploadResult{}, fmt.Errorf("storage: build form: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return UploadResult{}, fmt.Errorf("storage: build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("storage: build form: %w", err)
	}

	ctx, end := observability.StartSpan(ctx, "cloudinary.upload", attribute.String("cloudinary.folder", folder))
	var resp uploadResponse
	err = c.do(ctx, "upload", writer.FormDataContentType(), &body, &resp)
	end(err)
	if err != nil {
		return UploadResult{}, err
	}
	if resp.Error != nil {
		return UploadResult{}, fmt.Errorf("%w: %s", ErrRemoteRejected, resp.Error.Message)
	}
	return UploadResult{
		URL:      resp.SecureURL,
		PublicID: resp.PublicID,
		Width:    resp.Width,
		Height:   resp.Height,
		Bytes:    resp.Bytes,
	}, nil
}

// Destroy deletes an image. A missing asset is not an error.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return errInvalidPublic
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	form := url.Values{}
	form.Set("public_id", publicID)
	form.Set("timestamp", timestamp)
	form.Set("api_key", c.signer.APIKey())
	form.Set("signature", c.signer.Sign(map[string]string{"public_id": publicID, "timestamp": timestamp}))

	ctx, end := observability.StartSpan(ctx, "cloudinary.destroy")
	var resp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	err := c.do(ctx, "destroy", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp)
	end(err)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: %s", ErrRemoteRejected, resp.Error.Message)
	}
	switch resp.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("%w: destroy result %q", ErrRemoteRejected, resp.Result)
	}
}

func (c *Client) do(ctx context.Context, action, contentType string, body io.Reader, out any) error {
	endpoint := fmt.Sprintf("%s/v1_1/%s/image/%s", c.baseURL, url.PathEscape(c.cloudName), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("storage: build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: %s: %w", action, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("storage: read %s response: %w", action, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%w: status %d", ErrRemoteRejected, res.StatusCode)
		}
		return fmt.Errorf("storage: decode %s response: %w", action, err)
	}
	return nil
}
