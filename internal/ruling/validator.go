// Package ruling validates persona actions against the durable ruling log.
//
// FETCH is read-only and executes unconditionally. UPDATE consults the log:
// the first encounter executes and records an Allowed ruling with the turn's
// commit; a Denied ruling rejects the action on every future attempt until
// an explicit override.
package ruling

import (
	"context"
	"fmt"
	"strings"

	"council/internal/logging"
	"council/internal/store"
)

// Decisions attached to an action outcome.
const (
	DecisionFetch   = "fetch"
	DecisionAllowed = store.DecisionAllowed
	DecisionDenied  = store.DecisionDenied
)

// Executor performs validated actions against the campaign state.
type Executor interface {
	Fetch(ctx context.Context, target string) (string, error)
	Update(ctx context.Context, target string) error
}

// RulingSource reads prior rulings. Satisfied by *store.Store.
type RulingSource interface {
	GetRuling(key string) (*store.RulingEntry, error)
}

// Outcome is the result of validating one action.
type Outcome struct {
	Executed bool
	Decision string
	Reason   string
	Data     string // FETCH result payload
	// NewRuling is a pending Allowed entry created on first encounter of an
	// UPDATE. It must be committed atomically with the turn that produced it.
	NewRuling *store.RulingEntry
}

// Status maps the outcome to the transcript action status.
func (o Outcome) Status() string {
	if o.Executed {
		return "ok"
	}
	return "rejected"
}

// Validator checks and executes parsed action directives.
type Validator struct {
	rulings RulingSource
	exec    Executor
}

// New returns a validator backed by the ruling source and executor.
func New(rulings RulingSource, exec Executor) *Validator {
	return &Validator{rulings: rulings, exec: exec}
}

// Key normalizes an action's semantic identity: the acting persona plus the
// directive as written, lowercased with collapsed whitespace.
func Key(actor, action string) string {
	joined := actor + " " + action
	return strings.ToLower(strings.Join(strings.Fields(joined), " "))
}

// Validate checks the action and executes it when permitted. The action has
// already passed shape validation in the parser; an unknown verb is still
// rejected here rather than trusted.
func (v *Validator) Validate(ctx context.Context, actor, action string) (Outcome, error) {
	verb, body := splitAction(action)

	switch verb {
	case "FETCH":
		data, err := v.exec.Fetch(ctx, body)
		if err != nil {
			logging.Ruling("FETCH %q failed: %v", body, err)
			return Outcome{Decision: DecisionFetch, Reason: err.Error()}, nil
		}
		logging.Ruling("FETCH %q executed", body)
		return Outcome{Executed: true, Decision: DecisionFetch, Data: data}, nil

	case "UPDATE":
		return v.validateUpdate(ctx, actor, action, body)

	default:
		logging.Ruling("unknown action verb %q rejected", verb)
		return Outcome{Decision: DecisionDenied, Reason: fmt.Sprintf("unknown action verb: %s", verb)}, nil
	}
}

func (v *Validator) validateUpdate(ctx context.Context, actor, action, body string) (Outcome, error) {
	key := Key(actor, action)

	prior, err := v.rulings.GetRuling(key)
	if err != nil {
		return Outcome{}, fmt.Errorf("ruling: lookup %q: %w", key, err)
	}

	if prior != nil && prior.Decision == store.DecisionDenied {
		logging.Ruling("UPDATE %q denied by prior ruling", key)
		return Outcome{
			Decision: DecisionDenied,
			Reason:   deniedReason(prior),
		}, nil
	}

	if err := v.exec.Update(ctx, body); err != nil {
		logging.Ruling("UPDATE %q failed: %v", body, err)
		return Outcome{Decision: DecisionAllowed, Reason: err.Error()}, nil
	}

	out := Outcome{Executed: true, Decision: DecisionAllowed}
	if prior == nil {
		out.NewRuling = &store.RulingEntry{
			Key:      key,
			Decision: store.DecisionAllowed,
			Reason:   "allowed on first encounter",
		}
		logging.Ruling("UPDATE %q allowed, new ruling pending commit", key)
	} else {
		logging.Ruling("UPDATE %q re-executed under existing ruling", key)
	}
	return out, nil
}

func deniedReason(prior *store.RulingEntry) string {
	if prior.Reason != "" {
		return prior.Reason
	}
	return "prior ruling denied this action"
}

func splitAction(action string) (verb, body string) {
	parts := strings.Fields(strings.TrimSpace(action))
	if len(parts) == 0 {
		return "UNKNOWN", action
	}
	verb = strings.ToUpper(parts[0])
	body = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(action), parts[0]))
	return verb, body
}

// LogExecutor records action intent without touching campaign state. It
// stands in until savegame write-back lands.
type LogExecutor struct{}

// Fetch logs the read and returns an acknowledgement payload.
func (LogExecutor) Fetch(ctx context.Context, target string) (string, error) {
	logging.Ruling("executor: FETCH %s", target)
	return "fetched: " + target, nil
}

// Update logs the write.
func (LogExecutor) Update(ctx context.Context, target string) error {
	logging.Ruling("executor: UPDATE %s", target)
	return nil
}
