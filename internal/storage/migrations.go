package storage

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Migration is one schema step. Up is driver-specific SQL.
type Migration struct {
	Version string
	Up      string
}

// Pending returns the migrations newer than applied, oldest first.
// An empty applied means nothing has run yet.
func Pending(all []Migration, applied string) ([]Migration, error) {
	var current *semver.Version
	if applied != "" {
		v, err := semver.NewVersion(applied)
		if err != nil {
			return nil, fmt.Errorf("parse applied schema version %q: %w", applied, err)
		}
		current = v
	}

	type versioned struct {
		v *semver.Version
		m Migration
	}
	list := make([]versioned, 0, len(all))
	for _, m := range all {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", m.Version, err)
		}
		if current == nil || v.GreaterThan(current) {
			list = append(list, versioned{v: v, m: m})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].v.LessThan(list[j].v) })

	out := make([]Migration, 0, len(list))
	for _, vm := range list {
		out = append(out, vm.m)
	}
	return out, nil
}

// Latest returns the highest version in all.
func Latest(all []Migration) (string, error) {
	pending, err := Pending(all, "")
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "", nil
	}
	return pending[len(pending)-1].Version, nil
}

// Highest returns the greatest of the applied versions, or "" when none are.
func Highest(applied []string) (string, error) {
	var best *semver.Version
	var out string
	for _, a := range applied {
		v, err := semver.NewVersion(a)
		if err != nil {
			return "", fmt.Errorf("parse applied schema version %q: %w", a, err)
		}
		if best == nil || v.GreaterThan(best) {
			best, out = v, a
		}
	}
	return out, nil
}
