// Package diff computes what changed between two manifests, driving the
// incremental builder's decision about which steps to run. It has no
// direct teacher analogue — go-synth always does a full ports build —
// but its set arithmetic follows the same deterministic, sorted, tie-
// break-by-name discipline pkg/deps.go applies when materializing a
// build queue.
package diff

import (
	"sort"

	"darch/manifest"
)

// StringSetDiff is the added/removed halves of a set comparison, each
// sorted for deterministic logging and display.
type StringSetDiff struct {
	Added   []string
	Removed []string
}

// Empty reports whether the diff represents no change at all.
func (d StringSetDiff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Diff is the full comparison between an old and new manifest.
type Diff struct {
	Packages         StringSetDiff
	Services         StringSetDiff
	Files            FileDiff
	Symlinks         StringSetDiff // paths whose symlink target changed, added, or removed
	HostnameChanged  bool
	IdentityChanged  bool // anything requiring a full /etc regeneration pass
	InitramfsNeeded  bool // initramfs_modules/hooks or mkinitcpio.conf content changed
}

// mkinitcpioConfPath is the one file-content trigger for InitramfsNeeded
// besides the modules/hooks lists themselves. Kernel-package upgrades are
// not a trigger here: the package manager's own post-install hooks
// regenerate the initramfs on those, so this flag only ever reflects
// darch-owned inputs.
const mkinitcpioConfPath = "/etc/mkinitcpio.conf"

// FileDiff separates files by what kind of change happened, since an
// identical path with different content needs a rewrite but an
// unchanged path needs nothing.
type FileDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether no file changed at all.
func (f FileDiff) Empty() bool { return len(f.Added) == 0 && len(f.Removed) == 0 && len(f.Modified) == 0 }

// Empty reports whether the full diff represents no change at all. The
// builder does not call it: its skip decision compares the ledger's
// recorded manifest hash instead.
func (d Diff) Empty() bool {
	return d.Packages.Empty() && d.Services.Empty() && d.Files.Empty() &&
		d.Symlinks.Empty() && !d.IdentityChanged && !d.InitramfsNeeded
}

// Compute compares old against next and reports everything that changed.
// A nil old is treated as an empty manifest, so a first-ever build is
// simply "everything added."
func Compute(old, next *manifest.Manifest) Diff {
	if old == nil {
		old = &manifest.Manifest{}
	}

	d := Diff{
		Packages: diffStringSets(old.Packages, next.Packages),
		Services: diffStringSets(old.Services, next.Services),
		Files:    diffFiles(old.Files, next.Files),
		Symlinks: diffSymlinks(old.Symlinks, next.Symlinks),
	}

	d.HostnameChanged = old.Hostname != next.Hostname
	d.IdentityChanged = d.HostnameChanged ||
		old.Timezone != next.Timezone ||
		old.Locale != next.Locale ||
		!userEqual(old.User, next.User)

	d.InitramfsNeeded = !stringSliceEqual(old.InitramfsModules, next.InitramfsModules) ||
		!stringSliceEqual(old.InitramfsHooks, next.InitramfsHooks) ||
		containsString(d.Files.Added, mkinitcpioConfPath) ||
		containsString(d.Files.Modified, mkinitcpioConfPath)

	return d
}

func diffStringSets(oldSet, newSet []string) StringSetDiff {
	oldIdx := toSet(oldSet)
	newIdx := toSet(newSet)

	var added, removed []string
	for name := range newIdx {
		if !oldIdx[name] {
			added = append(added, name)
		}
	}
	for name := range oldIdx {
		if !newIdx[name] {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return StringSetDiff{Added: added, Removed: removed}
}

func diffFiles(oldFiles, newFiles map[string]manifest.File) FileDiff {
	var fd FileDiff
	for path, nf := range newFiles {
		of, existed := oldFiles[path]
		if !existed {
			fd.Added = append(fd.Added, path)
			continue
		}
		if of.Mode != nf.Mode || of.Content != nf.Content {
			fd.Modified = append(fd.Modified, path)
		}
	}
	for path := range oldFiles {
		if _, stillExists := newFiles[path]; !stillExists {
			fd.Removed = append(fd.Removed, path)
		}
	}
	sort.Strings(fd.Added)
	sort.Strings(fd.Removed)
	sort.Strings(fd.Modified)
	return fd
}

func diffSymlinks(oldLinks, newLinks map[string]string) StringSetDiff {
	var added, removed []string
	for path, target := range newLinks {
		if oldTarget, existed := oldLinks[path]; !existed || oldTarget != target {
			added = append(added, path)
		}
	}
	for path := range oldLinks {
		if _, stillExists := newLinks[path]; !stillExists {
			removed = append(removed, path)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return StringSetDiff{Added: added, Removed: removed}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func userEqual(a, b *manifest.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Shell != b.Shell {
		return false
	}
	if (a.UID == nil) != (b.UID == nil) {
		return false
	}
	if a.UID != nil && *a.UID != *b.UID {
		return false
	}
	aGroups, bGroups := append([]string(nil), a.Groups...), append([]string(nil), b.Groups...)
	sort.Strings(aGroups)
	sort.Strings(bGroups)
	return stringSliceEqual(aGroups, bGroups)
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
