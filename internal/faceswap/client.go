package faceswap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/pkg/logger"
)

// maxResponseSize bounds how much of a response body is read into memory.
const maxResponseSize = 256 << 20

// Error is a classified failure of one call to the transformation service.
type Error struct {
	Kind    models.FailureKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err. Unclassified errors count as
// upstream_error.
func KindOf(err error) models.FailureKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return models.FailureUpstreamError
}

// Classify maps an HTTP status to a failure kind. 2xx maps to "".
func Classify(status int) models.FailureKind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return models.FailureAuth
	case status == http.StatusTooManyRequests:
		return models.FailureUpstreamRateLimited
	case status == http.StatusRequestTimeout:
		return models.FailureUpstreamUnavailable
	case status >= 500:
		return models.FailureUpstreamError
	default:
		return models.FailureInvalidInput
	}
}

type ImageRequest struct {
	Source  []byte
	Target  []byte
	Enhance bool
}

type VideoRequest struct {
	Video   []byte
	Face    []byte
	Quality models.Quality
}

type Result struct {
	Data     []byte
	MimeType string
}

type Client struct {
	apiKey     string
	apiHost    string
	baseURL    string
	imagePath  string
	videoPath  string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a client. Deadlines come from the caller's context, so
// the HTTP client itself has no timeout.
func NewClient(cfg config.Config, log *slog.Logger) *Client {
	return &Client{
		apiKey:     cfg.FaceSwapAPIKey,
		apiHost:    cfg.FaceSwapAPIHost,
		baseURL:    strings.TrimRight(cfg.FaceSwapBaseURL, "/"),
		imagePath:  cfg.FaceSwapImagePath,
		videoPath:  cfg.FaceSwapVideoPath,
		httpClient: &http.Client{},
		log:        log,
	}
}

func (c *Client) SwapImage(ctx context.Context, req ImageRequest) (*Result, error) {
	payload := map[string]any{
		"source_image": base64.StdEncoding.EncodeToString(req.Source),
		"target_image": base64.StdEncoding.EncodeToString(req.Target),
		"face_enhance": req.Enhance,
	}
	data, err := c.post(ctx, c.imagePath, payload, "result_image")
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, MimeType: http.DetectContentType(data)}, nil
}

func (c *Client) SwapVideo(ctx context.Context, req VideoRequest) (*Result, error) {
	quality := req.Quality
	if quality == "" {
		quality = models.QualityStandard
	}
	payload := map[string]any{
		"video":      base64.StdEncoding.EncodeToString(req.Video),
		"face_image": base64.StdEncoding.EncodeToString(req.Face),
		"quality":    string(quality),
	}
	data, err := c.post(ctx, c.videoPath, payload, "result_video")
	if err != nil {
		return nil, err
	}
	mime := http.DetectContentType(data)
	if mime == "application/octet-stream" {
		mime = "video/mp4"
	}
	return &Result{Data: data, MimeType: mime}, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any, resultField string) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: models.FailureRequest, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: models.FailureRequest, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.apiHost)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.log != nil {
			c.log.Warn("faceswap request failed", "url", fullURL, logger.Err(err))
		}
		return nil, &Error{Kind: models.FailureUpstreamUnavailable, Err: err}
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: models.FailureUpstreamUnavailable, Status: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if kind := Classify(resp.StatusCode); kind != "" {
		if c.log != nil {
			c.log.Error("faceswap error response", "status", resp.StatusCode, "url", fullURL, "kind", kind, "body", truncateBody(rawBody))
		}
		return nil, &Error{Kind: kind, Status: resp.StatusCode, Message: errorMessage(rawBody)}
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return nil, &Error{Kind: models.FailureUpstreamError, Status: resp.StatusCode,
			Message: "undecodable response", Err: fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))}
	}
	var encoded string
	if raw, ok := decoded[resultField]; ok {
		_ = json.Unmarshal(raw, &encoded)
	}
	if encoded == "" {
		return nil, &Error{Kind: models.FailureUpstreamError, Status: resp.StatusCode, Message: "missing " + resultField}
	}
	result, err := decodeBase64(encoded)
	if err != nil {
		return nil, &Error{Kind: models.FailureUpstreamError, Status: resp.StatusCode, Message: "invalid " + resultField, Err: err}
	}
	return result, nil
}

// decodeBase64 accepts both raw base64 and data URLs.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty result")
	}
	return data, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return truncateBody(body)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
