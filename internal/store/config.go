package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/evolab/gactl/internal/model"
	"github.com/magiconair/properties"
)

// ConfigFile is the key=value file the optimizer reads on start.
// The optimizer matches keys by exact prefix, so the writer keeps
// the camelCase names and emits no spaces around '='.
type ConfigFile struct {
	path string
}

func NewConfigFile(path string) ConfigFile {
	return ConfigFile{path: path}
}

func (f ConfigFile) Path() string {
	return f.path
}

// Write replaces the file atomically.
func (f ConfigFile) Write(c model.RunConfig) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := Encode(tmp, c); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	return nil
}

// Read parses the file, keys missing from it keep the value from base.
func (f ConfigFile) Read(base model.RunConfig) (model.RunConfig, error) {
	r, err := os.Open(f.path)
	if err != nil {
		return base, err
	}
	defer r.Close()
	return Decode(r, base)
}

func Encode(w io.Writer, c model.RunConfig) error {
	bw := bufio.NewWriter(w)
	for _, kv := range fields(c) {
		if _, err := fmt.Fprintf(bw, "%s=%s\n", kv[0], kv[1]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func fields(c model.RunConfig) [][2]string {
	float := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
	return [][2]string{
		{"popSize", strconv.Itoa(c.PopSize)},
		{"generations", strconv.Itoa(c.Generations)},
		{"mutationRate", float(c.MutationRate)},
		{"crossoverRate", float(c.CrossoverRate)},
		{"eliteRatio", float(c.EliteRatio)},
		{"delay", strconv.Itoa(c.Delay)},
		{"function", c.Function},
		{"minBound", float(c.MinBound)},
		{"maxBound", float(c.MaxBound)},
	}
}

// Decode reads the key=value format produced by Encode. Unknown keys are
// ignored the same way the optimizer ignores them.
func Decode(r io.Reader, base model.RunConfig) (model.RunConfig, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return base, fmt.Errorf("config file: %w", err)
	}
	p, err := properties.Load(b, properties.UTF8)
	if err != nil {
		return base, fmt.Errorf("config file: %w", err)
	}

	var o model.Overrides
	var errs []error
	integer := func(key string) *int {
		raw, ok := p.Get(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return nil
		}
		return &n
	}
	float := func(key string) *float64 {
		raw, ok := p.Get(key)
		if !ok {
			return nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return nil
		}
		return &f
	}

	o.PopSize = integer("popSize")
	o.Generations = integer("generations")
	o.MutationRate = float("mutationRate")
	o.CrossoverRate = float("crossoverRate")
	o.EliteRatio = float("eliteRatio")
	o.Delay = integer("delay")
	if fn, ok := p.Get("function"); ok {
		o.Function = model.Ptr(fn)
	}
	o.MinBound = float("minBound")
	o.MaxBound = float("maxBound")

	if err := errors.Join(errs...); err != nil {
		return base, fmt.Errorf("config file: %w", err)
	}
	return base.Merge(o), nil
}
