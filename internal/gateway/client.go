// README: REST gateway to the ride backend. Every collaborator failure leaves here as an apperrors.Error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orbix/internal/apperrors"
	"orbix/internal/modules/pricing"
	"orbix/internal/payment"
	"orbix/internal/types"
)

const maxErrorBody = 4 << 10

type Options struct {
	BaseURL    string
	Token      string
	Role       types.Role
	HTTPClient *http.Client
	Timeout    time.Duration
	// Charger settles card and UPI payments. Nil means cash and wallet only.
	Charger payment.Charger
	// ReadRetries is how many times idempotent reads are retried after a network or 5xx error.
	ReadRetries  int
	RetryBackoff time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

type Client struct {
	base    string
	token   string
	role    types.Role
	http    *http.Client
	charger payment.Charger
	retries int
	backoff time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	fareMemo map[string]pricing.Fare
}

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.ReadRetries < 0 {
		opts.ReadRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.Token,
		role:     opts.Role,
		http:     opts.HTTPClient,
		charger:  opts.Charger,
		retries:  opts.ReadRetries,
		backoff:  opts.RetryBackoff,
		log:      opts.Logger.With(zap.String("component", "gateway")),
		now:      opts.Now,
		fareMemo: make(map[string]pricing.Fare),
	}
}

// StatusError is a non-2xx backend answer.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

type call struct {
	method         string
	path           string
	body           any
	out            any
	idempotencyKey string
	// read marks an idempotent read that may be retried.
	read bool
}

// do runs c and converts failures: transport errors become KindNetwork, non-2xx answers
// become KindGateway wrapping a *StatusError. Callers re-kind where the status means more.
func (cl *Client) do(ctx context.Context, op string, c call) error {
	attempts := 1
	if c.read {
		attempts += cl.retries
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := cl.backoff << (i - 1)
			cl.log.Debug("retrying read", zap.String("op", op), zap.Int("attempt", i+1), zap.Duration("wait", wait), zap.Error(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return apperrors.New(apperrors.KindNetwork, op, ctx.Err())
			case <-t.C:
			}
		}
		err = cl.once(ctx, op, c)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	if apperrors.KindOf(err) == apperrors.KindNetwork {
		return true
	}
	return StatusOf(err) >= 500
}

func (cl *Client) once(ctx context.Context, op string, c call) error {
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, cl.base+c.path, body)
	if err != nil {
		return apperrors.New(apperrors.KindBadRequest, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", c.idempotencyKey)
	}

	resp, err := cl.http.Do(req)
	if err != nil {
		return apperrors.New(apperrors.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Status: resp.StatusCode, Message: errorMessage(raw)}
		cl.log.Info("backend rejected request",
			zap.String("op", op),
			zap.String("path", c.path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", se.Message))
		return apperrors.New(apperrors.KindGateway, op, se)
	}
	if c.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(c.out); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.New(apperrors.KindGateway, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

// rekind keeps err's cause but reports it as kind.
func rekind(kind apperrors.Kind, op string, err error) error {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return apperrors.New(kind, op, ae.Err)
	}
	return apperrors.New(kind, op, err)
}
