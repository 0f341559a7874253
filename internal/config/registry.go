package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/MrWong99/voxscribe/pkg/storage"
)

// ErrBackendNotRegistered is returned by [Registry.CreateStore] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: storage backend not registered")

// StoreFactory constructs a storage backend from its config block.
type StoreFactory func(ctx context.Context, cfg StorageConfig) (storage.Store, error)

// Registry maps storage backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]StoreFactory)}
}

// RegisterStore registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterStore(name string, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = factory
}

// Backends returns the registered backend names, sorted.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CreateStore instantiates the backend registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateStore(ctx context.Context, cfg StorageConfig) (storage.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

// DecodeOptions decodes a free-form options map into the struct pointed to
// by out. Keys match field names case-insensitively, ignoring '_' and '-';
// strings are converted to numbers, booleans and durations where needed.
func DecodeOptions(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return fmt.Errorf("config: options decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("config: decode options: %w", err)
	}
	return nil
}

func normalizeKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}
