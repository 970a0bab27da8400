package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/fabfab/doc-chat/config"
)

// Client talks to the externally hosted n8n workflows: one webhook for chat
// inference, one for document ingestion.
type Client interface {
	Ask(ctx context.Context, message, sessionID string) (Result, error)
	Upload(ctx context.Context, filename string, file io.Reader, sessionID string) error
}

type Options struct {
	ChatURL   string
	UploadURL string
}

func NewClient(cfg config.Config) (Client, error) {
	return NewClientWithOptions(Options{
		ChatURL:   cfg.ChatWebhookURL,
		UploadURL: cfg.UploadWebhookURL,
	})
}

func NewClientWithOptions(opts Options) (Client, error) {
	if strings.TrimSpace(opts.ChatURL) == "" {
		return nil, fmt.Errorf("chat webhook URL is not set")
	}
	if strings.TrimSpace(opts.UploadURL) == "" {
		return nil, fmt.Errorf("upload webhook URL is not set")
	}

	return &httpClient{
		chatURL:   opts.ChatURL,
		uploadURL: opts.UploadURL,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

type httpClient struct {
	chatURL   string
	uploadURL string
	client    *http.Client
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (c *httpClient) Ask(ctx context.Context, message, sessionID string) (Result, error) {
	body, err := json.Marshal(chatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("n8n error: %s", statusText(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read chat response: %w", err)
	}

	return ParseResponse(data), nil
}

func (c *httpClient) Upload(ctx context.Context, filename string, file io.Reader, sessionID string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy upload body: %w", err)
	}
	if err := writer.WriteField("session_id", sessionID); err != nil {
		return fmt.Errorf("write session field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call upload webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server responded with status %d", resp.StatusCode)
	}

	return nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}
