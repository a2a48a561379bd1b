package action

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
)

// WorkerKind discriminates the worker variants in persisted actions.
type WorkerKind string

const KindSimple WorkerKind = "simple"

// Worker is the procedure a trigger action runs.
type Worker interface {
	Kind() WorkerKind
	Validate() error
}

// SimpleWorker activates a temporary plan, waits, then activates the target.
type SimpleWorker struct {
	TempPlanID   string `json:"temp_plan_id"`
	TargetPlanID string `json:"target_plan_id"`
	PauseSeconds int    `json:"pause_seconds"`
}

func (SimpleWorker) Kind() WorkerKind {
	return KindSimple
}

func (w SimpleWorker) Pause() time.Duration {
	return time.Duration(w.PauseSeconds) * time.Second
}

func (w SimpleWorker) Validate() error {
	errFactory := errors.New()

	if strings.TrimSpace(w.TempPlanID) == "" || strings.TrimSpace(w.TargetPlanID) == "" {
		return errFactory.WithMessage(ErrInvalid, "temp and target plan are required")
	}
	if w.PauseSeconds < 1 {
		return errFactory.WithMessage(ErrInvalid, "pause must be at least one second")
	}

	return nil
}

// RawWorker keeps a worker of a kind this build does not know, so that it
// survives a load and save unchanged. It can never be enabled.
type RawWorker struct {
	kind WorkerKind
	raw  json.RawMessage
}

func (w RawWorker) Kind() WorkerKind {
	return w.kind
}

func (w RawWorker) Validate() error {
	return errors.New().WithData(ErrUnsupportedWorker, string(w.kind))
}

func (w RawWorker) MarshalJSON() ([]byte, error) {
	return w.raw, nil
}

// TriggerAction is a user-configured reaction to a frequency alert.
type TriggerAction struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Worker  Worker `json:"worker"`
}

// Simple returns the worker as a SimpleWorker when it is one.
func (a TriggerAction) Simple() (SimpleWorker, bool) {
	switch w := a.Worker.(type) {
	case SimpleWorker:
		return w, true
	case *SimpleWorker:
		if w != nil {
			return *w, true
		}
	}
	return SimpleWorker{}, false
}

type simpleEnvelope struct {
	Kind WorkerKind `json:"kind"`
	SimpleWorker
}

type actionJSON struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Enabled bool            `json:"enabled"`
	Worker  json.RawMessage `json:"worker"`
}

func (a TriggerAction) MarshalJSON() ([]byte, error) {
	out := actionJSON{ID: a.ID, Name: a.Name, Enabled: a.Enabled}

	switch w := a.Worker.(type) {
	case nil:
		out.Worker = json.RawMessage("null")
	case RawWorker:
		out.Worker = w.raw
	default:
		simple, ok := a.Simple()
		if !ok {
			return nil, errors.New().WithData(ErrUnsupportedWorker, string(w.Kind()))
		}
		raw, err := json.Marshal(simpleEnvelope{Kind: KindSimple, SimpleWorker: simple})
		if err != nil {
			return nil, err
		}
		out.Worker = raw
	}

	return json.Marshal(out)
}

func (a *TriggerAction) UnmarshalJSON(data []byte) error {
	var in actionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	a.ID, a.Name, a.Enabled, a.Worker = in.ID, in.Name, in.Enabled, nil

	if len(in.Worker) == 0 || bytes.Equal(in.Worker, []byte("null")) {
		return nil
	}

	var head struct {
		Kind WorkerKind `json:"kind"`
	}
	if err := json.Unmarshal(in.Worker, &head); err != nil {
		return err
	}

	switch head.Kind {
	case KindSimple:
		var env simpleEnvelope
		if err := json.Unmarshal(in.Worker, &env); err != nil {
			return err
		}
		a.Worker = env.SimpleWorker
	default:
		a.Worker = RawWorker{kind: head.Kind, raw: append(json.RawMessage(nil), in.Worker...)}
	}

	return nil
}

// legacyAction is the flat record written before workers were introduced.
type legacyAction struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TempPlanGUID   string `json:"temp_plan_guid"`
	TargetPlanGUID string `json:"target_plan_guid"`
	PauseSeconds   int    `json:"pause_seconds"`
	Enabled        bool   `json:"enabled"`
}

func (l legacyAction) migrate() TriggerAction {
	return TriggerAction{
		ID:      l.ID,
		Name:    l.Name,
		Enabled: l.Enabled,
		Worker: SimpleWorker{
			TempPlanID:   l.TempPlanGUID,
			TargetPlanID: l.TargetPlanGUID,
			PauseSeconds: l.PauseSeconds,
		},
	}
}
