// Copyright 2024-2026 Aiku AI

package robot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Snapshot is the persisted form of a brain.
type Snapshot struct {
	Users map[string]*User `yaml:"users"`
	Data  map[string]any   `yaml:"data,omitempty"`
}

// Store is the read/write contract of the brain's long-term storage.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// YAMLStore keeps the brain snapshot in a single YAML file.
type YAMLStore struct {
	Path string
}

var _ Store = (*YAMLStore)(nil)

// Load reads the snapshot file. A missing file yields an empty snapshot.
func (s *YAMLStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &Snapshot{Users: map[string]*User{}}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read brain file: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse brain file: %w", err)
	}
	if snap.Users == nil {
		snap.Users = map[string]*User{}
	}
	return &snap, nil
}

// Save writes the snapshot through a temporary file so a crash never leaves a
// truncated brain behind.
func (s *YAMLStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal brain: %w", err)
	}
	tempFile, err := os.CreateTemp(filepath.Dir(s.Path), "brain-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file for brain: %w", err)
	}
	if _, err = tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempFile.Name())
		return fmt.Errorf("failed to write brain to temp file: %w", err)
	}
	if err = tempFile.Close(); err != nil {
		_ = os.Remove(tempFile.Name())
		return fmt.Errorf("failed to close brain temp file: %w", err)
	}
	if err = os.Rename(tempFile.Name(), s.Path); err != nil {
		_ = os.Remove(tempFile.Name())
		return fmt.Errorf("failed to replace brain file: %w", err)
	}
	return nil
}
