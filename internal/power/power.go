package power

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
)

// Plan is an OS power configuration.
type Plan struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Controller enumerates and switches OS power plans.
type Controller interface {
	Plans(ctx context.Context) ([]Plan, error)
	Activate(ctx context.Context, id string) error
	IsValid(ctx context.Context, id string) bool
	Delete(ctx context.Context, id string) error
	// Duplicate copies a plan and returns the copy.
	Duplicate(ctx context.Context, id string) (Plan, error)
	Rename(ctx context.Context, id, name string) error
	// Export writes a plan to a file that Import can read back.
	Export(ctx context.Context, id, path string) error
	Import(ctx context.Context, path string) (Plan, error)
}

// New returns the controller for the running OS.
func New(runner Runner) Controller {
	switch runtime.GOOS {
	case "windows":
		return NewPowerCfg(runner)
	case "linux":
		return NewProfiles(runner)
	}
	return unsupported{}
}

func findPlan(plans []Plan, id string) (Plan, bool) {
	for _, p := range plans {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Plan{}, false
}

func isValid(ctx context.Context, c Controller, id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	plans, err := c.Plans(ctx)
	if err != nil {
		return false
	}
	_, ok := findPlan(plans, id)
	return ok
}

func checkName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "\r\n\x00") {
		return "", errors.New().WithData(ErrInvalidName, name)
	}
	return name, nil
}

func checkPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" || !filepath.IsAbs(path) {
		return "", errors.New().WithData(ErrInvalidPath, path)
	}
	return filepath.Clean(path), nil
}

type unsupported struct{}

func (unsupported) Plans(context.Context) ([]Plan, error) {
	return nil, errUnsupported(runtime.GOOS)
}

func (unsupported) Activate(context.Context, string) error {
	return errUnsupported(runtime.GOOS)
}

func (unsupported) IsValid(context.Context, string) bool {
	return false
}

func (unsupported) Delete(context.Context, string) error {
	return errUnsupported(runtime.GOOS)
}

func (unsupported) Duplicate(context.Context, string) (Plan, error) {
	return Plan{}, errUnsupported(runtime.GOOS)
}

func (unsupported) Rename(context.Context, string, string) error {
	return errUnsupported(runtime.GOOS)
}

func (unsupported) Export(context.Context, string, string) error {
	return errUnsupported(runtime.GOOS)
}

func (unsupported) Import(context.Context, string) (Plan, error) {
	return Plan{}, errUnsupported(runtime.GOOS)
}
