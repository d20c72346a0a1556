package config

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Live setting keys and their defaults.
const (
	KeyBackoffBase  = "backoff_base"
	KeyPollInterval = "poll_interval"

	DefaultBackoffBase  = 2.0
	DefaultPollInterval = time.Second

	// MinPollInterval keeps idle workers from spinning on the store.
	MinPollInterval = time.Millisecond
	// MaxPollInterval is the largest representable sleep.
	MaxPollInterval = time.Duration(math.MaxInt64)
)

// minBackoffBase keeps every retry delay at one second or more, so a
// scheduled retry is always in the future.
const minBackoffBase = 1.0

var defaults = map[string]string{
	KeyBackoffBase:  "2",
	KeyPollInterval: "1",
}

// SettingStore is the key-value collaborator behind Settings.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, val string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// Settings reads live tunables from a SettingStore. Nothing is cached.
type Settings struct {
	store SettingStore
}

// NewSettings returns a Settings reader over store.
func NewSettings(store SettingStore) *Settings {
	return &Settings{store: store}
}

// BackoffBase returns the current backoff_base. On error the default is
// returned alongside the error.
func (s *Settings) BackoffBase(ctx context.Context) (float64, error) {
	v, err := s.number(ctx, KeyBackoffBase)
	if err != nil {
		return DefaultBackoffBase, err
	}
	return v, nil
}

// PollInterval returns the current poll_interval. On error the default is
// returned alongside the error.
func (s *Settings) PollInterval(ctx context.Context) (time.Duration, error) {
	v, err := s.number(ctx, KeyPollInterval)
	if err != nil {
		return DefaultPollInterval, err
	}
	return pollDuration(v), nil
}

// Get returns the value of a known key, falling back to its default.
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	key, err := NormalizeKey(key)
	if err != nil {
		return "", err
	}
	val, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return defaults[key], nil
	}
	return val, nil
}

// Set validates and stores a value for a known key.
func (s *Settings) Set(ctx context.Context, key, val string) error {
	key, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	if _, err := parseSetting(key, val); err != nil {
		return err
	}
	return s.store.SetSetting(ctx, key, strings.TrimSpace(val))
}

// All returns every known setting with defaults filled in.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// NormalizeKey maps accepted spellings ("backoff-base") to the stored key.
func NormalizeKey(key string) (string, error) {
	k := strings.ReplaceAll(strings.TrimSpace(key), "-", "_")
	if _, ok := defaults[k]; !ok {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	return k, nil
}

func (s *Settings) number(ctx context.Context, key string) (float64, error) {
	val, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		val = defaults[key]
	}
	return parseSetting(key, val)
}

// parseSetting accepts a finite positive number. backoff_base must also be
// at least 1.
func parseSetting(key, val string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, fmt.Errorf("invalid value for %s: %q", key, val)
	}
	if key == KeyBackoffBase && f < minBackoffBase {
		return 0, fmt.Errorf("invalid value for %s: %q (must be >= %g)", key, val, minBackoffBase)
	}
	return f, nil
}

// pollDuration converts seconds to a Duration clamped to
// [MinPollInterval, MaxPollInterval].
func pollDuration(secs float64) time.Duration {
	ns := secs * float64(time.Second)
	switch {
	case ns >= float64(MaxPollInterval):
		return MaxPollInterval
	case ns < float64(MinPollInterval):
		return MinPollInterval
	}
	return time.Duration(ns)
}
