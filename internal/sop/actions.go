package sop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// ErrUnknownAction marks a step whose action id has no registered
// handler.
var ErrUnknownAction = errors.New("unknown_action")

// ActionRequest is what a handler receives. In dry-run mode Dry is set
// and the params copy carries dry=true; handlers report what they
// would do without mutating anything.
type ActionRequest struct {
	Action     string
	ResourceID string
	Params     map[string]interface{}
	Dry        bool
}

// ActionHandler performs one remediation action. The returned string
// is the operator-visible output.
type ActionHandler func(ctx context.Context, req ActionRequest) (string, error)

type actionEntry struct {
	class   string
	handler ActionHandler
}

// ActionRegistry maps action ids onto handlers and risk classes.
// Handlers register at startup; the registry is read-heavy afterwards.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]actionEntry
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]actionEntry)}
}

func (r *ActionRegistry) Register(name, class string, h ActionHandler) error {
	if name == "" || h == nil {
		return fmt.Errorf("action registration needs a name and a handler")
	}
	switch class {
	case models.ActionClassReadOnly, models.ActionClassIdempotentWrite,
		models.ActionClassReversibleDisruptive, models.ActionClassIrreversible:
	default:
		return fmt.Errorf("action %s: unknown class %q", name, class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action %s already registered", name)
	}
	r.actions[name] = actionEntry{class: class, handler: h}
	return nil
}

// Class reports the registered risk class of an action id.
func (r *ActionRegistry) Class(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.actions[name]
	return entry.class, ok
}

// Invoke dispatches one action. Unregistered ids fail the containing
// step with ErrUnknownAction.
func (r *ActionRegistry) Invoke(ctx context.Context, req ActionRequest) (string, error) {
	r.mu.RLock()
	entry, ok := r.actions[req.Action]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}

	if req.Dry {
		params := make(map[string]interface{}, len(req.Params)+1)
		for k, v := range req.Params {
			params[k] = v
		}
		params["dry"] = true
		req.Params = params
	}
	return entry.handler(ctx, req)
}

// RegisterBuiltins installs the in-process default handlers. They log
// and echo; deployments replace them with real cloud integrations at
// startup.
func RegisterBuiltins(r *ActionRegistry, log logger.Logger) error {
	builtins := []struct {
		name  string
		class string
		verb  string
	}{
		{"describe-resource", models.ActionClassReadOnly, "describe"},
		{"collect-diagnostics", models.ActionClassReadOnly, "collect diagnostics from"},
		{"check-image-registry", models.ActionClassReadOnly, "verify image and registry credentials for"},
		{"create-snapshot", models.ActionClassIdempotentWrite, "snapshot"},
		{"ec2-scale-up", models.ActionClassIdempotentWrite, "scale up"},
		{"add-alarm", models.ActionClassIdempotentWrite, "add alarm on"},
		{"rollout-restart", models.ActionClassReversibleDisruptive, "rolling-restart"},
		{"undo-rollout", models.ActionClassReversibleDisruptive, "undo rollout on"},
		{"cleanup-logs", models.ActionClassReversibleDisruptive, "clean up logs on"},
		{"reboot-instance", models.ActionClassReversibleDisruptive, "reboot"},
		{"stop-instance", models.ActionClassIrreversible, "stop"},
		{"failover-db", models.ActionClassIrreversible, "fail over"},
	}
	for _, b := range builtins {
		if err := r.Register(b.name, b.class, echoHandler(b.name, b.verb, log)); err != nil {
			return err
		}
	}
	return nil
}

func echoHandler(name, verb string, log logger.Logger) ActionHandler {
	return func(ctx context.Context, req ActionRequest) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if req.Dry {
			return fmt.Sprintf("dry-run: would %s %s", verb, req.ResourceID), nil
		}
		log.Info("Action executed", "action", name, "resource_id", req.ResourceID)
		return fmt.Sprintf("%s %s", verb, req.ResourceID), nil
	}
}
