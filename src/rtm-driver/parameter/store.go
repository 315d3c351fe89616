package parameter

import (
	"strconv"
	"sync"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// Store keeps the parameters last reported by the device, in arrival order.
type Store struct {
	mutex  sync.RWMutex
	keys   []string
	values map[string]string
}

func NewStore() *Store {
	return &Store{values: map[string]string{}}
}

// Set stores a single value.
func (store *Store) Set(key string, value string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.set(key, value)
}

func (store *Store) set(key string, value string) {
	if _, ok := store.values[key]; !ok {
		store.keys = append(store.keys, key)
	}
	store.values[key] = value
}

// Absorb stores every value of a PARAMETER message.
func (store *Store) Absorb(values protocol.ParameterValues) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, value := range values.Values {
		store.set(value.Key, value.Value)
	}
}

// Apply stores a complete parameter set.
func (store *Store) Apply(parameters Parameters) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for i, value := range parameters.Values() {
		store.set(protocol.ParameterKeys[i], value)
	}
}

// Value returns the raw value of key.
func (store *Store) Value(key string) (string, bool) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	value, ok := store.values[key]
	return value, ok
}

// Int returns key as an integer, or fallback if it is missing or malformed.
func (store *Store) Int(key string, fallback int) int {
	value, ok := store.Value(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		// Some firmware versions report integers as floats
		float, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fallback
		}
		return int(float)
	}
	return parsed
}

// Float returns key as a float, or fallback if it is missing or malformed.
func (store *Store) Float(key string, fallback float64) float64 {
	value, ok := store.Value(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// Entries returns all values in arrival order.
func (store *Store) Entries() []protocol.KeyValue {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	entries := make([]protocol.KeyValue, 0, len(store.keys))
	for _, key := range store.keys {
		entries = append(entries, protocol.KeyValue{Key: key, Value: store.values[key]})
	}
	return entries
}

// Snapshot returns the known parameters, using Defaults for missing ones.
func (store *Store) Snapshot() Parameters {
	defaults := Defaults()
	return Parameters{
		KP:            store.Float("kP", defaults.KP),
		KI:            store.Float("kI", defaults.KI),
		KD:            store.Float("kD", defaults.KD),
		TargetNa:      store.Float("targetNa", defaults.TargetNa),
		ToleranceNa:   store.Float("toleranceNa", defaults.ToleranceNa),
		StartX:        store.Int("startX", defaults.StartX),
		StartY:        store.Int("startY", defaults.StartY),
		MeasureMs:     store.Int("measureMs", defaults.MeasureMs),
		Direction:     store.Int("direction", defaults.Direction),
		MaxX:          store.Int("maxX", defaults.MaxX),
		MaxY:          store.Int("maxY", defaults.MaxY),
		Multiplicator: store.Int("multiplicator", defaults.Multiplicator),
	}
}
