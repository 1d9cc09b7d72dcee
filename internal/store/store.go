// Package store wraps a callback-style key/value storage surface, where
// failures are reported through an ambient last-error value, behind calls
// that return explicit errors.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrStorageUnavailable means no storage surface was configured at all.
var ErrStorageUnavailable = errors.New("storage API not available")

// StorageError carries the message the surface reported for a failed call.
type StorageError struct {
	Op      string
	Key     string
	Message string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %s", e.Op, e.Key, e.Message)
}

// Surface is the raw storage API. Each call completes by invoking cb; inside
// cb, LastError reports the failure of that call, if any.
type Surface interface {
	Get(key string, cb func(items map[string]json.RawMessage))
	Set(items map[string]json.RawMessage, cb func())
	Remove(key string, cb func())
	LastError() error
}

// Adapter turns a Surface into context-aware calls with explicit errors.
type Adapter struct {
	surface Surface
}

// NewAdapter returns an adapter over s. A nil s is accepted; every call then
// fails with ErrStorageUnavailable.
func NewAdapter(s Surface) *Adapter {
	return &Adapter{surface: s}
}

// Available reports whether a surface is present.
func (a *Adapter) Available() bool {
	return a != nil && a.surface != nil
}

type result struct {
	value json.RawMessage
	found bool
	err   error
}

// Get returns the stored value for key. found is false when the key is absent.
func (a *Adapter) Get(ctx context.Context, key string) (value json.RawMessage, found bool, err error) {
	if !a.Available() {
		return nil, false, ErrStorageUnavailable
	}
	done := make(chan result, 1)
	a.surface.Get(key, func(items map[string]json.RawMessage) {
		if lastErr := a.surface.LastError(); lastErr != nil {
			done <- result{err: &StorageError{Op: "get", Key: key, Message: lastErr.Error()}}
			return
		}
		v, ok := items[key]
		done <- result{value: v, found: ok && len(v) > 0 && string(v) != "null"}
	})
	r, err := wait(ctx, done)
	if err != nil {
		return nil, false, err
	}
	return r.value, r.found, r.err
}

// Set marshals value and stores it under key.
func (a *Adapter) Set(ctx context.Context, key string, value any) error {
	if !a.Available() {
		return ErrStorageUnavailable
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	done := make(chan result, 1)
	a.surface.Set(map[string]json.RawMessage{key: data}, func() {
		done <- result{err: a.callError("set", key)}
	})
	r, err := wait(ctx, done)
	if err != nil {
		return err
	}
	return r.err
}

// Remove deletes key. Removing an absent key succeeds.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	if !a.Available() {
		return ErrStorageUnavailable
	}
	done := make(chan result, 1)
	a.surface.Remove(key, func() {
		done <- result{err: a.callError("remove", key)}
	})
	r, err := wait(ctx, done)
	if err != nil {
		return err
	}
	return r.err
}

func (a *Adapter) callError(op, key string) error {
	if lastErr := a.surface.LastError(); lastErr != nil {
		return &StorageError{Op: op, Key: key, Message: lastErr.Error()}
	}
	return nil
}

func wait(ctx context.Context, done <-chan result) (result, error) {
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}
