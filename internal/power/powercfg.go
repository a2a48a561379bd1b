package power

import (
	"bufio"
	"context"
	"strings"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"github.com/google/uuid"
)

const powercfgBin = "powercfg"

// PowerCfg drives Windows power schemes through powercfg.exe.
type PowerCfg struct {
	runner Runner
}

func NewPowerCfg(runner Runner) *PowerCfg {
	return &PowerCfg{runner: runner}
}

func (p *PowerCfg) Plans(ctx context.Context) ([]Plan, error) {
	out, err := p.runner.Run(ctx, powercfgBin, "/list")
	if err != nil {
		return nil, err
	}
	return parsePowerCfgList(decodeOutput(out)), nil
}

func (p *PowerCfg) Activate(ctx context.Context, id string) error {
	guid, err := parseGUID(id)
	if err != nil {
		return err
	}
	_, err = p.runner.Run(ctx, powercfgBin, "/setactive", guid)
	return err
}

func (p *PowerCfg) IsValid(ctx context.Context, id string) bool {
	if _, err := parseGUID(id); err != nil {
		return false
	}
	return isValid(ctx, p, id)
}

// Delete removes a scheme. The active scheme cannot be deleted.
func (p *PowerCfg) Delete(ctx context.Context, id string) error {
	guid, err := parseGUID(id)
	if err != nil {
		return err
	}

	plans, err := p.Plans(ctx)
	if err != nil {
		return err
	}

	plan, ok := findPlan(plans, guid)
	if !ok {
		return errors.New().WithData(ErrPlanNotFound, guid)
	}
	if plan.Active {
		return errors.New().WithData(ErrPlanActive, plan.Name)
	}

	_, err = p.runner.Run(ctx, powercfgBin, "/delete", guid)
	return err
}

// Duplicate copies a scheme. powercfg names the copy after the source.
func (p *PowerCfg) Duplicate(ctx context.Context, id string) (Plan, error) {
	guid, err := parseGUID(id)
	if err != nil {
		return Plan{}, err
	}

	out, err := p.runner.Run(ctx, powercfgBin, "/duplicatescheme", guid)
	if err != nil {
		return Plan{}, err
	}
	return p.lookupCreated(ctx, decodeOutput(out))
}

func (p *PowerCfg) Rename(ctx context.Context, id, name string) error {
	guid, err := parseGUID(id)
	if err != nil {
		return err
	}
	name, err = checkName(name)
	if err != nil {
		return err
	}

	_, err = p.runner.Run(ctx, powercfgBin, "/changename", guid, name)
	return err
}

func (p *PowerCfg) Export(ctx context.Context, id, path string) error {
	guid, err := parseGUID(id)
	if err != nil {
		return err
	}
	path, err = checkPath(path)
	if err != nil {
		return err
	}

	_, err = p.runner.Run(ctx, powercfgBin, "/export", path, guid)
	return err
}

// Import reads a scheme exported by Export and installs it under a new GUID.
func (p *PowerCfg) Import(ctx context.Context, path string) (Plan, error) {
	path, err := checkPath(path)
	if err != nil {
		return Plan{}, err
	}

	out, err := p.runner.Run(ctx, powercfgBin, "/import", path)
	if err != nil {
		return Plan{}, err
	}
	return p.lookupCreated(ctx, decodeOutput(out))
}

// lookupCreated resolves the scheme reported by /duplicatescheme or /import
// against the current list to pick up its name.
func (p *PowerCfg) lookupCreated(ctx context.Context, out string) (Plan, error) {
	guid, ok := reportedGUID(out)
	if !ok {
		return Plan{}, errors.New().WithData(ErrUnexpected, strings.TrimSpace(out))
	}

	plans, err := p.Plans(ctx)
	if err != nil {
		return Plan{}, err
	}
	if plan, found := findPlan(plans, guid); found {
		return plan, nil
	}
	return Plan{ID: guid, Name: guid}, nil
}

// reportedGUID returns the first GUID that follows a "GUID:" label.
func reportedGUID(out string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		idx := strings.Index(line, "GUID:")
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+len("GUID:"):])
		if len(fields) == 0 {
			continue
		}
		if guid, err := parseGUID(fields[0]); err == nil {
			return guid, true
		}
	}
	return "", false
}

func parseGUID(id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", errors.New().Wrap(ErrInvalidPlanID, err).WithData(id)
	}
	return u.String(), nil
}

// parsePowerCfgList reads lines of the form
//
//	Power Scheme GUID: 381b4222-f694-41f0-9685-ff5bb260df2e  (Balanced) *
//
// that follow the dashed separator. The label before "GUID:" is localized.
func parsePowerCfgList(out string) []Plan {
	plans := make([]Plan, 0)
	seenSeparator := false

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "-----") {
			seenSeparator = true
			continue
		}
		if !seenSeparator {
			continue
		}

		idx := strings.Index(line, "GUID:")
		if idx < 0 {
			continue
		}

		rest := strings.TrimSpace(line[idx+len("GUID:"):])
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		guid := fields[0]

		namePart := strings.TrimSpace(strings.TrimPrefix(rest, guid))
		active := strings.HasSuffix(namePart, "*")
		namePart = strings.TrimSpace(strings.TrimSuffix(namePart, "*"))

		name := namePart
		if open, end := strings.Index(namePart, "("), strings.LastIndex(namePart, ")"); open >= 0 && end > open {
			name = strings.TrimSpace(namePart[open+1 : end])
		}

		plans = append(plans, Plan{ID: strings.ToLower(guid), Name: name, Active: active})
	}

	return plans
}
