package store

import (
	"encoding/json"
	"sync"
)

// MemorySurface keeps items in process memory. Nothing survives a restart.
type MemorySurface struct {
	callbacks
	quota int
	dmu   sync.Mutex
	items map[string]json.RawMessage
}

// NewMemorySurface returns an empty surface. quota <= 0 disables the limit.
func NewMemorySurface(quota int) *MemorySurface {
	return &MemorySurface{quota: quota, items: map[string]json.RawMessage{}}
}

func (s *MemorySurface) Get(key string, cb func(items map[string]json.RawMessage)) {
	out := map[string]json.RawMessage{}
	s.run(func() error {
		s.dmu.Lock()
		defer s.dmu.Unlock()
		if v, ok := s.items[key]; ok {
			out[key] = append(json.RawMessage(nil), v...)
		}
		return nil
	}, func() { cb(out) })
}

func (s *MemorySurface) Set(items map[string]json.RawMessage, cb func()) {
	s.run(func() error {
		if err := checkQuota(items, s.quota); err != nil {
			return err
		}
		s.dmu.Lock()
		defer s.dmu.Unlock()
		for k, v := range items {
			s.items[k] = append(json.RawMessage(nil), v...)
		}
		return nil
	}, cb)
}

func (s *MemorySurface) Remove(key string, cb func()) {
	s.run(func() error {
		s.dmu.Lock()
		defer s.dmu.Unlock()
		delete(s.items, key)
		return nil
	}, cb)
}
