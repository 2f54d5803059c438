package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"

	"svcpanel/config"
	"svcpanel/models"
	"svcpanel/panel"
	"svcpanel/utils"
)

// ErrRejected is returned when the service answered 2xx with success=false
var ErrRejected = errors.New("settings service rejected the update")

// StatusError is a non-2xx answer from the settings service
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("settings service returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("settings service returned %d", e.Code)
}

// Is lets errors.Is match a 401 against panel.ErrUnauthorized
func (e *StatusError) Is(target error) bool {
	return target == panel.ErrUnauthorized && e.Code == 401
}

// SettingsClient talks to the remote settings endpoint
type SettingsClient struct {
	baseURL    string
	updatePath string
	timeout    time.Duration
	http       *fasthttp.Client
	cb         *gobreaker.CircuitBreaker
	log        *utils.Logger
}

type reply struct {
	code int
	body []byte
}

// New creates a client for api guarded by a circuit breaker
func New(api config.APIConfig, br config.BreakerConfig, logger *utils.Logger) *SettingsClient {
	if logger == nil {
		logger = utils.Log
	}
	c := &SettingsClient{
		baseURL:    api.BaseURL,
		updatePath: api.UpdatePath,
		timeout:    api.Timeout,
		http: &fasthttp.Client{
			Name:                "svcpanel",
			MaxConnsPerHost:     16,
			MaxIdleConnDuration: time.Minute,
		},
		log: logger,
	}

	minRequests := br.MinRequests
	ratio := br.FailureRatio
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "settings-api",
		MaxRequests: br.MaxRequests,
		Interval:    br.Interval,
		Timeout:     br.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(map[string]interface{}{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Circuit breaker %s changed state", name)
		},
	})
	return c
}

// do performs one request. Transport errors and 5xx answers count against
// the breaker; 4xx answers come back as a reply with a nil error.
func (c *SettingsClient) do(ctx context.Context, method, path, token string, payload interface{}) (*reply, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(c.baseURL + path)
		req.Header.SetMethod(method)
		req.Header.Set(fasthttp.HeaderAccept, "application/json")
		if token != "" {
			req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
		}
		if body != nil {
			req.Header.SetContentType("application/json")
			req.SetBody(body)
		}

		timeout := c.timeout
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < timeout {
				timeout = left
			}
		}

		if err := c.http.DoTimeout(req, resp, timeout); err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}

		r := &reply{
			code: resp.StatusCode(),
			body: append([]byte(nil), resp.Body()...),
		}
		if r.code >= 500 {
			return nil, &StatusError{Code: r.code, Message: errorMessage(r.body)}
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*reply), nil
}

// errorMessage extracts a displayable message from an error body
func errorMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Message != "" {
			return utils.SanitizeMessage(envelope.Message)
		}
		if envelope.Error != "" {
			return utils.SanitizeMessage(envelope.Error)
		}
	}
	return ""
}

func checkStatus(r *reply) error {
	if r.code < 200 || r.code >= 300 {
		return &StatusError{Code: r.code, Message: errorMessage(r.body)}
	}
	return nil
}

// FetchSettings reads the record. Absent fields read as false.
func (c *SettingsClient) FetchSettings(ctx context.Context, token string) (models.Settings, error) {
	r, err := c.do(ctx, fasthttp.MethodGet, "/settings", token, nil)
	if err != nil {
		return models.Settings{}, err
	}
	if err := checkStatus(r); err != nil {
		return models.Settings{}, err
	}

	var payload models.SettingsPayload
	if err := json.Unmarshal(r.body, &payload); err != nil {
		return models.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return payload.Normalize(), nil
}

// PersistSettings sends all three fields. The echoed record is returned when
// the service includes one, either wrapped as {success, settings} or bare.
func (c *SettingsClient) PersistSettings(ctx context.Context, token string, s models.Settings) (*models.Settings, error) {
	r, err := c.do(ctx, fasthttp.MethodPut, c.updatePath, token, s.ToPayload())
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	if len(r.body) == 0 {
		return nil, nil
	}

	var envelope struct {
		Success  *bool                   `json:"success"`
		Message  string                  `json:"message"`
		Settings *models.SettingsPayload `json:"settings"`
		models.SettingsPayload
	}
	if err := json.Unmarshal(r.body, &envelope); err != nil {
		c.log.Warn("Unreadable update response: %v", err)
		return nil, nil
	}
	if envelope.Success != nil && !*envelope.Success {
		if envelope.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrRejected, utils.SanitizeMessage(envelope.Message))
		}
		return nil, ErrRejected
	}
	if envelope.Settings != nil {
		echo := envelope.Settings.Normalize()
		return &echo, nil
	}
	bare := envelope.SettingsPayload
	if bare.Appointment != nil || bare.Pickup != nil || bare.SpeakToHuman != nil {
		echo := bare.Normalize()
		return &echo, nil
	}
	return nil, nil
}

// Authenticate asks the service's login endpoint to check a pair.
// A 400 or 401 is a verdict, not an error.
func (c *SettingsClient) Authenticate(ctx context.Context, email, password string) (panel.AuthResult, error) {
	r, err := c.do(ctx, fasthttp.MethodPost, "/auth/login", "", models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return panel.AuthResult{}, err
	}

	var resp models.LoginResponse
	decodeErr := json.Unmarshal(r.body, &resp)

	switch {
	case r.code == fasthttp.StatusOK && decodeErr == nil && resp.Success:
		return panel.AuthResult{OK: true, Token: resp.Token}, nil
	case r.code == fasthttp.StatusOK || r.code == fasthttp.StatusBadRequest || r.code == fasthttp.StatusUnauthorized:
		msg := utils.SanitizeMessage(resp.Message)
		if msg == "" {
			msg = panel.InvalidCredentialsMessage
		}
		return panel.AuthResult{Message: msg}, nil
	default:
		return panel.AuthResult{}, &StatusError{Code: r.code, Message: errorMessage(r.body)}
	}
}

// State reports the breaker state, for readiness checks
func (c *SettingsClient) State() gobreaker.State {
	return c.cb.State()
}

// Ping fails while the breaker is open
func (c *SettingsClient) Ping(ctx context.Context) error {
	if c.cb.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	return nil
}
