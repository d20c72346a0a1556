package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Record describes one running pool.
type Record struct {
	PID       int       `json:"pid"`
	Workers   []string  `json:"workers"`
	StartedAt time.Time `json:"started_at"`
}

type registryFile struct {
	Pools []Record `json:"pools"`
}

// Registry persists running pool records in a JSON file so that a separate
// `worker stop` invocation can find them. Every read-modify-write holds an
// advisory lock on <path>.lock, so concurrent processes never drop each
// other's records. Writes replace the file atomically.
type Registry struct {
	path string
}

// NewRegistry returns a Registry backed by path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) Path() string { return r.path }

// withLock runs fn while holding the registry lock file.
func (r *Registry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	lock := flock.New(r.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock worker registry: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck
	return fn()
}

// Load returns all recorded pools. A missing file yields no records.
func (r *Registry) Load() ([]Record, error) {
	var pools []Record
	err := r.withLock(func() error {
		f, err := r.read()
		pools = f.Pools
		return err
	})
	return pools, err
}

// Add records rec, replacing any record with the same pid.
func (r *Registry) Add(rec Record) error {
	return r.withLock(func() error {
		f, err := r.read()
		if err != nil {
			return err
		}
		f.Pools = append(without(f.Pools, rec.PID), rec)
		return r.write(f)
	})
}

// Remove drops the record for pid. The file is deleted once empty.
func (r *Registry) Remove(pid int) error {
	return r.withLock(func() error {
		f, err := r.read()
		if err != nil {
			return err
		}
		f.Pools = without(f.Pools, pid)
		if len(f.Pools) == 0 {
			return r.clear()
		}
		return r.write(f)
	})
}

// Drain returns every record and deletes them in one locked step, so a pool
// registering concurrently is either returned or left in place.
func (r *Registry) Drain() ([]Record, error) {
	var pools []Record
	err := r.withLock(func() error {
		f, err := r.read()
		if err != nil {
			return err
		}
		pools = f.Pools
		return r.clear()
	})
	return pools, err
}

func (r *Registry) clear() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove worker registry: %w", err)
	}
	return nil
}

func (r *Registry) read() (registryFile, error) {
	var f registryFile
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read worker registry: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse worker registry %s: %w", r.path, err)
	}
	return f, nil
}

func (r *Registry) write(f registryFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".workers-*.json")
	if err != nil {
		return fmt.Errorf("write worker registry: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write worker registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write worker registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("write worker registry: %w", err)
	}
	return nil
}

func without(pools []Record, pid int) []Record {
	out := pools[:0:0]
	for _, p := range pools {
		if p.PID != pid {
			out = append(out, p)
		}
	}
	return out
}
