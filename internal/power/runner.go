package power

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"unicode/utf8"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec without a console window.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(decodeOutput(stderr.Bytes()))
		if msg == "" {
			msg = strings.TrimSpace(decodeOutput(out))
		}
		return nil, errors.New().Wrap(ErrCommandFailed, err).WithData(strings.TrimSpace(name + " " + strings.Join(args, " ") + ": " + msg))
	}

	return out, nil
}

// decodeOutput returns UTF-8 text. Windows consoles with a Chinese locale
// emit GBK, which is converted; anything else undecodable is kept as is.
func decodeOutput(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}
