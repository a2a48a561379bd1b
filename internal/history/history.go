package history

import (
	"context"

	"codeberg.org/mutker/cpufreqctl/internal/action"
	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"codeberg.org/mutker/cpufreqctl/internal/monitor"
)

// Service turns bus events into history rows.
type Service struct {
	rec Recorder
	log logger.Logger
}

// No-op implementation
type noopRecorder struct{}

func NewService(cfg Config) (*Service, error) {
	errFactory := errors.New()
	log := logger.With("history")

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If history is disabled, use a no-op recorder
	if !cfg.Enabled {
		log.Debug().Msg("History disabled, using no-op recorder")
		return &Service{rec: noopRecorder{}, log: log}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create history repository")
		return nil, err
	}

	return &Service{rec: repo, log: log}, nil
}

// Consume records events until ctx is done or ch is closed.
func (s *Service) Consume(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.handle(ev); err != nil {
				s.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to record history")
			}
		}
	}
}

func (s *Service) handle(ev events.Event) error {
	switch p := ev.Payload.(type) {
	case monitor.State:
		// Empty states mark a stop or a failed read; pulses repeat a reading.
		if ev.Type != events.StateUpdated || len(p.Frequencies) == 0 || p.IsRefreshing {
			return nil
		}
		return s.rec.RecordSample(Sample{
			Timestamp:   ev.Time,
			Mode:        p.Mode.String(),
			Indicator:   string(p.IndicatorStatus),
			Frequencies: p.Frequencies,
		})
	case monitor.ThresholdPayload:
		return s.rec.RecordAlert(Alert{
			Timestamp:    ev.Time,
			Severity:     string(p.Severity),
			Cores:        p.Cores,
			ThresholdGHz: p.ThresholdGHz,
		})
	case action.Result:
		return s.rec.RecordActionRun(ActionRun{
			ActionID: p.ActionID,
			Name:     p.ActionName,
			Phase:    string(p.Phase),
			FailedAt: string(p.FailedAt),
			Error:    p.Error,
			Started:  p.Started,
			Finished: p.Finished,
		})
	}
	return nil
}

func (s *Service) RecentSamples(ctx context.Context, limit int) ([]Sample, error) {
	if limit < 1 {
		return nil, errors.New().WithMessage(errors.ErrInvalidArgument, "limit must be positive")
	}
	return s.rec.RecentSamples(ctx, limit)
}

func (s *Service) Close() error {
	if err := s.rec.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (noopRecorder) RecordSample(Sample) error       { return nil }
func (noopRecorder) RecordAlert(Alert) error         { return nil }
func (noopRecorder) RecordActionRun(ActionRun) error { return nil }
func (noopRecorder) Close() error                    { return nil }

func (noopRecorder) RecentSamples(context.Context, int) ([]Sample, error) {
	return []Sample{}, nil
}
