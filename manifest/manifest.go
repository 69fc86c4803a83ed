// Package manifest implements the declarative system description that
// drives every build: which packages are installed, which files and
// symlinks exist, which services are listed (recorded and diffed; no
// build step enables or disables them), and which initramfs
// modules/hooks are wired in. Its JSON codec enforces the stable,
// sorted-output rule the diff engine depends on, grounded on
// builddb.BuildRecord's plain-struct JSON marshaling but adding an
// explicit canonicalization pass since a manifest's Packages/Services
// fields are unordered sets that must serialize identically regardless
// of the order a caller built them in.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// File describes one file darch writes verbatim into a generation.
type File struct {
	Mode    os.FileMode `json:"mode"`
	Content string      `json:"content"`
}

// User describes the single optional declarative user account a
// manifest may carry.
type User struct {
	Name   string   `json:"name"`
	Shell  string   `json:"shell,omitempty"`
	Groups []string `json:"groups,omitempty"`
	UID    *int     `json:"uid,omitempty"`
}

// Manifest is the full declarative description of one system
// configuration. Packages, Services, and a User's Groups are unordered
// sets — always sorted before marshaling. InitramfsModules and
// InitramfsHooks are ordered sequences and are never reordered, since
// module/hook order is semantically significant to mkinitcpio.
type Manifest struct {
	Hostname         string            `json:"hostname,omitempty"`
	Timezone         string            `json:"timezone,omitempty"`
	Locale           string            `json:"locale,omitempty"`
	User             *User             `json:"user,omitempty"`
	Packages         []string          `json:"packages"`
	Files            map[string]File   `json:"files,omitempty"`
	Symlinks         map[string]string `json:"symlinks,omitempty"`
	Services         []string          `json:"services,omitempty"`
	InitramfsModules []string          `json:"initramfs_modules,omitempty"`
	InitramfsHooks   []string          `json:"initramfs_hooks,omitempty"`
	KernelParams     []string          `json:"kernel_params,omitempty"`
}

// Canonicalize sorts the unordered-set fields in place. Called before
// every marshal so two manifests describing the same system always
// produce byte-identical JSON.
func (m *Manifest) Canonicalize() {
	sort.Strings(m.Packages)
	sort.Strings(m.Services)
	if m.User != nil {
		sort.Strings(m.User.Groups)
	}
}

// Validate rejects manifests with internally inconsistent data: a
// symlink and a file claiming the same path, or empty entries.
func (m *Manifest) Validate() error {
	for path := range m.Files {
		if path == "" {
			return fmt.Errorf("manifest: file entry has empty path")
		}
		if _, clash := m.Symlinks[path]; clash {
			return fmt.Errorf("manifest: %s is declared as both a file and a symlink", path)
		}
	}
	for _, pkg := range m.Packages {
		if pkg == "" {
			return fmt.Errorf("manifest: empty package name")
		}
	}
	if m.User != nil && m.User.Name == "" {
		return fmt.Errorf("manifest: user entry has empty name")
	}
	return nil
}

// ManifestInvalid reports that config.json could not be parsed against
// the declared schema — including a stray or typo'd key, which strict
// decoding rejects rather than silently dropping. Per spec, this is
// fatal for the generation it belongs to: the generation is left (or
// stays) incomplete and is reaped by the next garbage-collection pass.
type ManifestInvalid struct {
	Path string
	Err  error
}

func (e *ManifestInvalid) Error() string {
	return fmt.Sprintf("manifest: %s is not a valid manifest: %v", e.Path, e.Err)
}
func (e *ManifestInvalid) Unwrap() error { return e.Err }

// Load reads and strictly decodes a manifest from path. Unknown keys are
// rejected rather than silently ignored, so a typo or a stray field in
// config.json surfaces as an error instead of round-tripping unnoticed.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	defer f.Close()

	var m Manifest
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, &ManifestInvalid{Path: path, Err: err}
	}
	return &m, nil
}

// WriteAtomic canonicalizes and writes the manifest to path using the
// temp-file + fsync + rename pattern: the write is either fully visible
// or not visible at all, matching the same durability discipline
// log.Logger applies to every write (an explicit Sync() call after each
// one) but extended to survive a crash between write and close.
func (m *Manifest) WriteAtomic(path string) error {
	m.Canonicalize()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("manifest: rename into place: %w", err)
	}
	return nil
}

// Equal reports whether two manifests describe the same system,
// comparing canonicalized copies so field order never matters.
func Equal(a, b *Manifest) bool {
	ca, cb := *a, *b
	ca.Canonicalize()
	cb.Canonicalize()

	aj, err := json.Marshal(&ca)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(&cb)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
