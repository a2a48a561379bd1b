package action

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"codeberg.org/mutker/cpufreqctl/internal/config"
	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"codeberg.org/mutker/cpufreqctl/internal/notify"
	"github.com/google/uuid"
)

// PlanValidator reports whether a power plan id currently resolves.
type PlanValidator interface {
	IsValid(ctx context.Context, id string) bool
}

// MasterSwitch is the trigger-action feature flag.
type MasterSwitch interface {
	TriggerActionEnabled() bool
	Set(key string, value any) error
}

// DisabledPayload is published with events.ActionsDisabled.
type DisabledPayload struct {
	IDs []string `json:"ids"`
}

// Service owns the list of trigger actions and the rules for enabling them.
// Its lock is never held while calling the master switch, whose validator
// calls back into HasEnabled.
type Service struct {
	mu      sync.Mutex
	store   Store
	actions []TriggerAction

	plans    PlanValidator
	master   MasterSwitch
	notifier notify.Notifier
	pub      events.Publisher
	log      logger.Logger
}

func NewService(store Store, plans PlanValidator, master MasterSwitch, notifier notify.Notifier, pub events.Publisher) (*Service, error) {
	actions, err := store.Load()
	if err != nil {
		return nil, err
	}

	return &Service{
		store:    store,
		actions:  actions,
		plans:    plans,
		master:   master,
		notifier: notifier,
		pub:      pub,
		log:      logger.With("actions"),
	}, nil
}

func (s *Service) List() []TriggerAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]TriggerAction(nil), s.actions...)
}

func (s *Service) Get(id string) (TriggerAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		return s.actions[i], nil
	}
	return TriggerAction{}, errors.New().WithData(ErrNotFound, id)
}

// Save inserts or replaces an action. A new action gets a fresh id. Saving
// an enabled action checks its plans the same way SetEnabled does.
func (s *Service) Save(ctx context.Context, a TriggerAction) (TriggerAction, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return TriggerAction{}, errors.New().WithMessage(ErrInvalid, "name is required")
	}
	if a.Worker == nil {
		return TriggerAction{}, errors.New().WithMessage(ErrInvalid, "worker is required")
	}
	if _, raw := a.Worker.(RawWorker); raw {
		if a.Worker.Kind() == "" {
			return TriggerAction{}, errors.New().WithMessage(ErrInvalid, "worker kind is required")
		}
	} else {
		if err := a.Worker.Validate(); err != nil {
			return TriggerAction{}, err
		}
	}
	if a.Enabled {
		if err := s.checkPlans(ctx, a); err != nil {
			return TriggerAction{}, err
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	s.mu.Lock()
	next := append([]TriggerAction(nil), s.actions...)
	if i := s.indexOf(a.ID); i >= 0 {
		next[i] = a
	} else {
		next = append(next, a)
	}
	err := s.commit(next)
	s.mu.Unlock()

	if err != nil {
		return TriggerAction{}, err
	}

	s.log.Info().Str("id", a.ID).Str("name", a.Name).Bool("enabled", a.Enabled).Msg("Trigger action saved")
	s.releaseMasterIfIdle()

	return a, nil
}

func (s *Service) Delete(id string) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return errors.New().WithData(ErrNotFound, id)
	}

	next := make([]TriggerAction, 0, len(s.actions)-1)
	next = append(next, s.actions[:i]...)
	next = append(next, s.actions[i+1:]...)
	err := s.commit(next)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.log.Info().Str("id", id).Msg("Trigger action deleted")
	s.releaseMasterIfIdle()

	return nil
}

// SetEnabled enables or disables an action. Enabling requires both plans to
// resolve; on any failure nothing changes.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	a, err := s.Get(id)
	if err != nil {
		return err
	}

	if enabled {
		if err := s.checkPlans(ctx, a); err != nil {
			return err
		}
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return errors.New().WithData(ErrNotFound, id)
	}
	next := append([]TriggerAction(nil), s.actions...)
	next[i].Enabled = enabled
	err = s.commit(next)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	if !enabled {
		s.releaseMasterIfIdle()
	}

	return nil
}

// Active returns the first enabled action; it is the one alerts run.
func (s *Service) Active() (TriggerAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actions {
		if _, ok := a.Simple(); ok && a.Enabled {
			return a, true
		}
	}
	return TriggerAction{}, false
}

func (s *Service) HasEnabled() bool {
	_, ok := s.Active()
	return ok
}

// ValidateMasterSwitch rejects turning the feature on with no enabled action.
func (s *Service) ValidateMasterSwitch(value any) error {
	if on, _ := value.(bool); on && !s.HasEnabled() {
		return errors.New().WithMessage(ErrNoneEnabled, "enable a trigger action first")
	}
	return nil
}

// Reconcile disables every enabled action whose plans no longer resolve and
// turns the feature off when it did so. It returns the disabled ids.
func (s *Service) Reconcile(ctx context.Context) ([]string, error) {
	invalid := make(map[string]bool)
	for _, a := range s.List() {
		if !a.Enabled {
			continue
		}
		if err := s.checkPlans(ctx, a); err != nil {
			invalid[a.ID] = true
		}
	}

	if len(invalid) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	next := append([]TriggerAction(nil), s.actions...)
	disabled := make([]string, 0, len(invalid))
	names := make([]string, 0, len(invalid))
	for i := range next {
		if next[i].Enabled && invalid[next[i].ID] {
			next[i].Enabled = false
			disabled = append(disabled, next[i].ID)
			names = append(names, next[i].Name)
		}
	}
	err := s.commit(next)
	s.mu.Unlock()

	if err != nil {
		return nil, errors.New().Wrap(errors.ErrReconcile, err)
	}

	s.log.Warn().Strs("ids", disabled).Msg("Disabled trigger actions with missing power plans")

	if s.master.TriggerActionEnabled() {
		if err := s.master.Set(config.KeyTriggerActionEnabled, false); err != nil {
			return disabled, errors.New().Wrap(errors.ErrReconcile, err)
		}
	}

	s.notifier.Notify("Trigger actions disabled",
		fmt.Sprintf("Power plans used by %s no longer exist", strings.Join(names, ", ")))
	s.pub.Publish(events.ActionsDisabled, DisabledPayload{IDs: disabled})

	return disabled, nil
}

func (s *Service) checkPlans(ctx context.Context, a TriggerAction) error {
	w, ok := a.Simple()
	if !ok {
		return errors.New().WithData(ErrUnsupportedWorker, kindOf(a.Worker))
	}
	if err := w.Validate(); err != nil {
		return err
	}

	for _, id := range []string{w.TempPlanID, w.TargetPlanID} {
		if !s.plans.IsValid(ctx, id) {
			return errors.New().WithData(ErrPlanInvalid, id)
		}
	}

	return nil
}

// releaseMasterIfIdle turns the feature off once no action is enabled.
func (s *Service) releaseMasterIfIdle() {
	if s.HasEnabled() || !s.master.TriggerActionEnabled() {
		return
	}
	if err := s.master.Set(config.KeyTriggerActionEnabled, false); err != nil {
		s.log.Warn().Err(err).Msg("Failed to turn off trigger actions")
	}
}

// commit persists next and adopts it. Caller must hold mu.
func (s *Service) commit(next []TriggerAction) error {
	if err := s.store.Save(next); err != nil {
		return err
	}
	s.actions = next
	return nil
}

// caller must hold mu
func (s *Service) indexOf(id string) int {
	for i, a := range s.actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func kindOf(w Worker) string {
	if w == nil {
		return "none"
	}
	return string(w.Kind())
}
