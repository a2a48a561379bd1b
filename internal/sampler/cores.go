package sampler

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/afero"
)

const (
	DefaultSysfsRoot = "/sys/devices/system/cpu"
	khzPerMHz        = 1000
)

var cpuDirPattern = regexp.MustCompile(`cpu(\d+)$`)

// CoreReader reads the current clock of every logical core. It prefers
// cpufreq's scaling_cur_freq and falls back to gopsutil on hosts without it.
type CoreReader struct {
	fs     afero.Fs
	root   string
	infoFn func(ctx context.Context) ([]cpu.InfoStat, error)
}

func NewCoreReader(fs afero.Fs, root string) *CoreReader {
	return &CoreReader{
		fs:     fs,
		root:   root,
		infoFn: cpu.InfoWithContext,
	}
}

func (r *CoreReader) Read(ctx context.Context) ([]uint64, error) {
	paths, err := afero.Glob(r.fs, filepath.Join(r.root, "cpu[0-9]*", "cpufreq", "scaling_cur_freq"))
	if err != nil || len(paths) == 0 {
		return r.readInfo(ctx)
	}

	sort.Slice(paths, func(i, j int) bool {
		return coreIndex(paths[i]) < coreIndex(paths[j])
	})

	errFactory := errors.New()
	freqs := make([]uint64, 0, len(paths))
	for _, path := range paths {
		raw, err := afero.ReadFile(r.fs, path)
		if err != nil {
			return nil, errFactory.Wrap(ErrReadFrequency, err).WithData(path)
		}

		khz, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			return nil, errFactory.Wrap(ErrReadFrequency, err).WithData(path)
		}

		freqs = append(freqs, khz/khzPerMHz)
	}

	return freqs, nil
}

func (r *CoreReader) readInfo(ctx context.Context) ([]uint64, error) {
	errFactory := errors.New()

	infos, err := r.infoFn(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrReadFrequency, err)
	}
	if len(infos) == 0 {
		return nil, errFactory.New(ErrNoCores)
	}

	freqs := make([]uint64, len(infos))
	for i, info := range infos {
		if info.Mhz > 0 {
			freqs[i] = uint64(info.Mhz)
		}
	}

	return freqs, nil
}

func coreIndex(path string) int {
	dir := filepath.Dir(filepath.Dir(path))
	m := cpuDirPattern.FindStringSubmatch(dir)
	if m == nil {
		return -1
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
