// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// defaultKeepVersions is how many published versions survive pruning.
const defaultKeepVersions = 5

// tmpLinkName is the scratch symlink renamed over CurrentLink. The
// rename is the single atomic step of a publish.
const tmpLinkName = ".current.tmp"

// stagingPrefix names in-progress version directories under the root.
// Staging lives beside versions/ so the final move is a same-filesystem
// rename.
const stagingPrefix = "staging-"

// ErrVersionExists is returned when publishing under a version name
// that was already published.
var ErrVersionExists = errors.New("artifact version already published")

// Publisher owns the write side of an artifact root: staging, the
// atomic publish, the health marker, and version pruning.
//
// # Description
//
// A publish never mutates an existing version directory. The complete
// set is staged, moved under versions/ with one rename, and exposed by
// renaming a prepared symlink over the current link. Any failure before
// the link rename leaves the previously published set byte-identical.
//
// # Thread Safety
//
// Not safe for concurrent publishes; the refresh loop is the single
// writer. Readers are safe at any time.
type Publisher struct {
	root         string
	keepVersions int
}

// NewPublisher creates a publisher over an artifact root, creating the
// root and versions directories if needed.
func NewPublisher(root string) (*Publisher, error) {
	if root == "" {
		return nil, errors.New("artifact root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, VersionsDir), 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Publisher{root: root, keepVersions: defaultKeepVersions}, nil
}

// Root returns the artifact root directory.
func (p *Publisher) Root() string {
	return p.root
}

// SetKeepVersions overrides how many versions pruning retains. Values
// below one are clamped to one: the live version is never pruned.
func (p *Publisher) SetKeepVersions(n int) {
	if n < 1 {
		n = 1
	}
	p.keepVersions = n
}

// HasCurrent reports whether a published version is live.
func (p *Publisher) HasCurrent() bool {
	_, err := NewReader(p.root).CurrentDir()
	return err == nil
}

// StageDir creates a fresh staging directory beside versions/ and
// returns its path. The caller fills it with a complete export set and
// either publishes or discards it.
func (p *Publisher) StageDir() (string, error) {
	dir, err := os.MkdirTemp(p.root, stagingPrefix)
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// Discard removes a failed staging directory. Missing directories are
// not an error; a retry loop may discard unconditionally.
func (p *Publisher) Discard(stagingDir string) {
	if stagingDir == "" || !strings.HasPrefix(filepath.Base(stagingDir), stagingPrefix) {
		return
	}
	_ = os.RemoveAll(stagingDir)
}

// Publish moves a staged export set under versions/ and atomically
// repoints the current link to it.
//
// # Description
//
// The sequence is: verify the staged set is complete, rename staging to
// versions/<version>, prepare a scratch symlink, and rename it over the
// current link. Only the final rename changes what consumers see, and
// rename over an existing link is atomic, so a reader resolves either
// the old complete set or the new complete set and nothing in between.
//
// The health marker is written after the flip; pruning of old versions
// runs last and never touches the live target.
//
// # Inputs
//
//   - stagingDir: Directory returned by StageDir, fully populated.
//   - version: Unique version name (chronologically sortable).
//
// # Outputs
//
//   - error: ErrExportMissing if the staged set is incomplete,
//     ErrVersionExists on a duplicate version name, or the first
//     filesystem error. On error the previously published set is
//     untouched.
func (p *Publisher) Publish(stagingDir, version string) error {
	if version == "" || strings.ContainsAny(version, "/\\") {
		return fmt.Errorf("invalid version name %q", version)
	}

	for _, name := range requiredExports {
		info, err := os.Stat(filepath.Join(stagingDir, name))
		if err != nil || info.Size() == 0 {
			return fmt.Errorf("%w: %s not staged", ErrExportMissing, name)
		}
	}

	versionDir := filepath.Join(p.root, VersionsDir, version)
	if _, err := os.Stat(versionDir); err == nil {
		return fmt.Errorf("%w: %s", ErrVersionExists, version)
	}
	if err := os.Rename(stagingDir, versionDir); err != nil {
		return fmt.Errorf("move staged version: %w", err)
	}

	// Relative link target keeps the root relocatable across mounts.
	tmpLink := filepath.Join(p.root, tmpLinkName)
	_ = os.Remove(tmpLink)
	if err := os.Symlink(filepath.Join(VersionsDir, version), tmpLink); err != nil {
		return fmt.Errorf("prepare current link: %w", err)
	}
	if err := os.Rename(tmpLink, filepath.Join(p.root, CurrentLink)); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("flip current link: %w", err)
	}

	if err := p.SetHealthy(); err != nil {
		return err
	}
	return p.pruneVersions()
}

// SetHealthy writes the health marker beside the current link.
func (p *Publisher) SetHealthy() error {
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(filepath.Join(p.root, HealthMarker), []byte(content), 0o640); err != nil {
		return fmt.Errorf("write health marker: %w", err)
	}
	return nil
}

// ClearHealthy removes the health marker. Used after a failed refresh
// iteration; the published set itself stays in place.
func (p *Publisher) ClearHealthy() error {
	err := os.Remove(filepath.Join(p.root, HealthMarker))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear health marker: %w", err)
	}
	return nil
}

// pruneVersions removes the oldest version directories beyond the
// retention count. Version names sort chronologically, and the live
// target is always retained regardless of age.
func (p *Publisher) pruneVersions() error {
	entries, err := os.ReadDir(filepath.Join(p.root, VersionsDir))
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) <= p.keepVersions {
		return nil
	}
	sort.Strings(names)

	live := ""
	if dir, err := NewReader(p.root).CurrentDir(); err == nil {
		live = filepath.Base(dir)
	}

	for _, name := range names[:len(names)-p.keepVersions] {
		if name == live {
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.root, VersionsDir, name)); err != nil {
			return fmt.Errorf("prune version %s: %w", name, err)
		}
	}
	return nil
}
