package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileSurface keeps every key in one JSON document on disk.
type FileSurface struct {
	callbacks
	path  string
	quota int
}

// NewFileSurface stores items in path. quota <= 0 disables the per-item limit.
func NewFileSurface(path string, quota int) *FileSurface {
	return &FileSurface{path: path, quota: quota}
}

func (s *FileSurface) Get(key string, cb func(items map[string]json.RawMessage)) {
	var out map[string]json.RawMessage
	s.run(func() error {
		all, err := s.load()
		if err != nil {
			return err
		}
		out = map[string]json.RawMessage{}
		if v, ok := all[key]; ok {
			out[key] = v
		}
		return nil
	}, func() { cb(out) })
}

func (s *FileSurface) Set(items map[string]json.RawMessage, cb func()) {
	s.run(func() error {
		if err := checkQuota(items, s.quota); err != nil {
			return err
		}
		all, err := s.load()
		if err != nil {
			return err
		}
		for k, v := range items {
			all[k] = v
		}
		return s.save(all)
	}, cb)
}

func (s *FileSurface) Remove(key string, cb func()) {
	s.run(func() error {
		all, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := all[key]; !ok {
			return nil
		}
		delete(all, key)
		return s.save(all)
	}, cb)
}

func (s *FileSurface) load() (map[string]json.RawMessage, error) {
	all := map[string]json.RawMessage{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return all, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return all, nil
}

func (s *FileSurface) save(all map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}
