package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/policygate/policygate/pkg/observability"
)

// CallStatus classifies the outcome of one upstream policy authority call.
type CallStatus int

// Call statuses. Success and Denied are completed calls from the breaker's
// perspective; Error, Timeout, and Malformed count as breaker failures.
const (
	CallSuccess CallStatus = iota
	CallDenied
	CallError
	CallTimeout
	CallMalformed
)

func (s CallStatus) String() string {
	switch s {
	case CallSuccess:
		return "success"
	case CallDenied:
		return "denied"
	case CallError:
		return "error"
	case CallTimeout:
		return "timeout"
	case CallMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// UpstreamResult is the transient outcome of one policy authority call,
// consumed immediately by the engine and discarded.
type UpstreamResult struct {
	Allowed bool
	TTL     time.Duration
	Reason  string
	Latency time.Duration
	Slow    bool
	Status  CallStatus
}

// UpstreamError reports a failed policy authority call with its failure
// class. It unwraps to ErrAuthorityError.
type UpstreamError struct {
	Status  CallStatus
	Latency time.Duration
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("policy authority call %s: %v", e.Status, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return ErrAuthorityError
}

// PolicyChecker resolves a permission against the upstream policy
// authority. Implementations must bound their own latency.
type PolicyChecker interface {
	CheckPermission(ctx context.Context, organizationID, subject, permission string) (*UpstreamResult, error)
}

// PolicyClientConfig configures the HTTP policy client.
type PolicyClientConfig struct {
	// BaseURL of the policy authority
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the hard per-call bound
	Timeout time.Duration `mapstructure:"timeout"`
	// SlowThreshold flags calls slower than this; informational only
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// DefaultPolicyClientConfig returns the reference client tuning.
func DefaultPolicyClientConfig(baseURL string) PolicyClientConfig {
	return PolicyClientConfig{
		BaseURL:       baseURL,
		Timeout:       3 * time.Second,
		SlowThreshold: 500 * time.Millisecond,
	}
}

// HTTPPolicyClient implements PolicyChecker against the policy authority's
// POST /permissions/check endpoint.
type HTTPPolicyClient struct {
	config     PolicyClientConfig
	httpClient *http.Client
	sink       EventSink
	logger     observability.Logger
}

// checkRequest is the wire body for POST /permissions/check.
type checkRequest struct {
	OrganizationID string `json:"organization_id"`
	SubjectID      string `json:"subject_id"`
	Permission     string `json:"permission"`
}

// checkResponse is the expected success body from the policy authority.
type checkResponse struct {
	Allowed *bool  `json:"allowed"`
	TTL     *int   `json:"ttl"`
	Reason  string `json:"reason,omitempty"`
}

// NewHTTPPolicyClient creates a policy client. A nil sink discards events.
func NewHTTPPolicyClient(config PolicyClientConfig, sink EventSink, logger observability.Logger) *HTTPPolicyClient {
	if config.Timeout == 0 {
		config.Timeout = 3 * time.Second
	}
	if config.SlowThreshold == 0 {
		config.SlowThreshold = 500 * time.Millisecond
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &HTTPPolicyClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		sink:   sink,
		logger: logger.WithPrefix("policy-client"),
	}
}

// CheckPermission performs the bounded remote check and classifies its
// outcome. Completed calls (success or denied) return a result; error,
// timeout, and malformed outcomes return an *UpstreamError.
func (c *HTTPPolicyClient) CheckPermission(ctx context.Context, organizationID, subject, permission string) (*UpstreamResult, error) {
	key := DecisionKey{OrganizationID: organizationID, Subject: subject, Permission: permission}

	body, err := json.Marshal(checkRequest{
		OrganizationID: organizationID,
		SubjectID:      subject,
		Permission:     permission,
	})
	if err != nil {
		return nil, &UpstreamError{Status: CallError, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.config.BaseURL+"/permissions/check", bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Status: CallError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)

	if err != nil {
		status := CallError
		if isTimeout(err) {
			status = CallTimeout
		}
		return nil, c.fail(key, status, latency, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.fail(key, CallError, latency, errors.Errorf("unexpected status %d", resp.StatusCode))
	}

	var parsed checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, c.fail(key, CallMalformed, latency, errors.Wrap(err, "decoding response"))
	}
	if parsed.Allowed == nil || parsed.TTL == nil || *parsed.TTL < 0 {
		return nil, c.fail(key, CallMalformed, latency, errors.New("response missing allowed/ttl"))
	}

	result := &UpstreamResult{
		Allowed: *parsed.Allowed,
		TTL:     time.Duration(*parsed.TTL) * time.Second,
		Reason:  parsed.Reason,
		Latency: latency,
		Slow:    latency > c.config.SlowThreshold,
		Status:  CallSuccess,
	}
	if !result.Allowed {
		result.Status = CallDenied
	}

	c.sink.Emit(UpstreamCallEvent{
		Key:     key.String(),
		Status:  result.Status,
		Latency: latency,
		Slow:    result.Slow,
	})
	return result, nil
}

// fail emits the call event for a failed upstream call and wraps it in an
// UpstreamError.
func (c *HTTPPolicyClient) fail(key DecisionKey, status CallStatus, latency time.Duration, err error) error {
	c.sink.Emit(UpstreamCallEvent{
		Key:     key.String(),
		Status:  status,
		Latency: latency,
		Slow:    latency > c.config.SlowThreshold,
	})
	c.logger.Warn("policy authority call failed", map[string]interface{}{
		"key":        key.String(),
		"status":     status.String(),
		"latency_ms": latency.Milliseconds(),
		"error":      err.Error(),
	})
	return &UpstreamError{Status: status, Latency: latency, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
