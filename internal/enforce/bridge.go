// Package enforce bridges to the delegated out-of-process enforcement
// service. Every failure on this path — spawn error, non-zero exit,
// malformed payload, timeout — funnels through a single chokepoint that
// resolves to deny. There is no fail-open outcome.
package enforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Request is the wire payload sent to the enforcement process on stdin.
type Request struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

const (
	ActionCheckAccess = "check_access"
	ActionLogAccess   = "log_access"
	ActionStatus      = "status"
)

// response is the enforcement process's reply. Allowed is a pointer so an
// absent field is distinguishable from an explicit false.
type response struct {
	Allowed *bool  `json:"allowed,omitempty"`
	Logged  *bool  `json:"logged,omitempty"`
	State   string `json:"state,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
	ID      string `json:"id,omitempty"`
}

// Decision is the fail-closed access verdict.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	State   string `json:"state,omitempty"`
}

// DefaultTimeout bounds one enforcement call.
const DefaultTimeout = 10 * time.Second

// Bridge invokes the enforcement service as a per-call process, writing
// the JSON request to stdin and reading a JSON object from stdout.
type Bridge struct {
	command string
	args    []string
	timeout time.Duration
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBridge creates a bridge running the given command per call.
func NewBridge(command string, args []string, opts ...Option) *Bridge {
	b := &Bridge{
		command: command,
		args:    append([]string(nil), args...),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CheckAccess asks the enforcement service whether the vault may be
// accessed. Any error on the path is a deny.
func (b *Bridge) CheckAccess(ctx context.Context, vaultID string) Decision {
	resp, err := b.run(ctx, Request{
		Action: ActionCheckAccess,
		Data:   map[string]any{"vault_id": vaultID},
	})
	if err != nil {
		return deny(err.Error(), "")
	}
	if resp.Error != "" {
		return deny(resp.Error, resp.State)
	}
	if resp.Allowed == nil || !*resp.Allowed {
		reason := resp.Reason
		if reason == "" {
			reason = "enforcement service did not allow access"
		}
		return deny(reason, resp.State)
	}
	return Decision{Allowed: true, State: resp.State}
}

// LogAccess records an access attempt (success or failure) in the external
// immutable log. A logging failure is surfaced to the caller but carries
// no allow/deny semantics of its own.
func (b *Bridge) LogAccess(ctx context.Context, vaultID string, success bool, meta map[string]any) error {
	resp, err := b.run(ctx, Request{
		Action: ActionLogAccess,
		Data: map[string]any{
			"vault_id": vaultID,
			"success":  success,
			"context":  meta,
		},
	})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("enforce: log_access failed: %s", resp.Error)
	}
	return nil
}

// Status queries the enforcement service state.
func (b *Bridge) Status(ctx context.Context) (string, error) {
	resp, err := b.run(ctx, Request{Action: ActionStatus})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("enforce: status failed: %s", resp.Error)
	}
	return resp.State, nil
}

func (b *Bridge) run(ctx context.Context, req Request) (response, error) {
	if b == nil || strings.TrimSpace(b.command) == "" {
		return response{}, fmt.Errorf("enforce: no enforcement command configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("enforce: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.command, b.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return response{}, fmt.Errorf("enforce: process failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return response{}, fmt.Errorf("enforce: invalid JSON from enforcement process: %w", err)
	}
	return resp, nil
}

// deny is the single chokepoint mapping every non-success outcome to a
// uniform deny-with-reason decision.
func deny(reason, state string) Decision {
	return Decision{Allowed: false, Reason: reason, State: state}
}
