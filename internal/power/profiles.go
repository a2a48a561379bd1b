package power

import (
	"bufio"
	"context"
	"regexp"
	"strings"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
)

const powerProfilesBin = "powerprofilesctl"

var (
	profileLine = regexp.MustCompile(`^(\*)?\s*([A-Za-z0-9_-]+):\s*$`)
	profileName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

// Profiles drives power-profiles-daemon through powerprofilesctl. Its
// profiles are fixed by the daemon, so they cannot be deleted.
type Profiles struct {
	runner Runner
}

func NewProfiles(runner Runner) *Profiles {
	return &Profiles{runner: runner}
}

func (p *Profiles) Plans(ctx context.Context) ([]Plan, error) {
	out, err := p.runner.Run(ctx, powerProfilesBin, "list")
	if err != nil {
		return nil, err
	}
	return parseProfilesList(string(out)), nil
}

func (p *Profiles) Activate(ctx context.Context, id string) error {
	if !profileName.MatchString(id) {
		return errors.New().WithData(ErrInvalidPlanID, id)
	}
	_, err := p.runner.Run(ctx, powerProfilesBin, "set", id)
	return err
}

func (p *Profiles) IsValid(ctx context.Context, id string) bool {
	return isValid(ctx, p, id)
}

func (p *Profiles) Delete(context.Context, string) error {
	return errUnsupported("deleting power profiles")
}

func (p *Profiles) Duplicate(context.Context, string) (Plan, error) {
	return Plan{}, errUnsupported("duplicating power profiles")
}

func (p *Profiles) Rename(context.Context, string, string) error {
	return errUnsupported("renaming power profiles")
}

func (p *Profiles) Export(context.Context, string, string) error {
	return errUnsupported("exporting power profiles")
}

func (p *Profiles) Import(context.Context, string) (Plan, error) {
	return Plan{}, errUnsupported("importing power profiles")
}

// parseProfilesList reads the profile headers of `powerprofilesctl list`;
// the indented detail lines under each header are skipped.
func parseProfilesList(out string) []Plan {
	plans := make([]Plan, 0, 3)

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
			continue
		}

		m := profileLine.FindStringSubmatch(strings.TrimRight(line, " "))
		if m == nil {
			continue
		}

		plans = append(plans, Plan{ID: m[2], Name: m[2], Active: m[1] == "*"})
	}

	return plans
}
