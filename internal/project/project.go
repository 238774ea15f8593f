package project

import (
	"slices"
	"sort"
	"strings"
)

// Project is a logical, independently-indexed unit of source code.
type Project struct {
	// ID is the stable identity: the trailing-slash-normalized root URI.
	ID string

	// Name is an optional human-readable label, typically the base name
	// of the root directory.
	Name string

	// RootURI is the file:// URI all member files live under.
	RootURI string

	// RootPath is the native filesystem form of RootURI.
	RootPath string
}

// Same reports whether two projects are the same project. Only the ID
// participates; structural equality is meaningless for identity.
func Same(a, b *Project) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

// Change is a batch of membership changes emitted by a strategy.
type Change struct {
	Added   []Project
	Removed []Project
	Updated []Project
}

// Empty reports whether the change carries nothing.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0
}

// CurrentChange describes a transition of the current project.
type CurrentChange struct {
	Old *Project
	New *Project
}

// NormalizeURI returns uri with exactly one trailing slash, the canonical
// form used for IDs and prefix matching.
func NormalizeURI(uri string) string {
	if uri == "" {
		return uri
	}
	return strings.TrimRight(uri, "/") + "/"
}

// New builds a Project rooted at the given URI/path pair.
func New(rootURI, rootPath, name string) Project {
	return Project{
		ID:       NormalizeURI(rootURI),
		Name:     name,
		RootURI:  rootURI,
		RootPath: rootPath,
	}
}

// Contains reports whether a location falls under the project root.
// The project root itself is contained.
func (p *Project) Contains(uri string) bool {
	return strings.HasPrefix(NormalizeURI(uri), p.ID)
}

// sortByDepth orders projects shallowest-first: by normalized root URI
// length, ties broken lexicographically. The first prefix match in this
// order is the owning project of a location.
func sortByDepth(projects []Project) {
	sort.Slice(projects, func(i, j int) bool {
		a, b := projects[i].ID, projects[j].ID
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
}

// resolveIn returns the first project in the depth-sorted list whose root
// is a prefix of uri, or nil.
func resolveIn(projects []Project, uri string) *Project {
	norm := NormalizeURI(uri)
	for i := range projects {
		if strings.HasPrefix(norm, projects[i].ID) {
			p := projects[i]
			return &p
		}
	}
	return nil
}

// indexByID returns the position of the project with the given id, or -1.
func indexByID(projects []Project, id string) int {
	for i := range projects {
		if projects[i].ID == id {
			return i
		}
	}
	return -1
}

// removeByID removes exactly the element with the given id, if present.
// It never truncates past the removed element.
func removeByID(projects []Project, id string) []Project {
	idx := indexByID(projects, id)
	if idx < 0 {
		return projects
	}
	return slices.Delete(projects, idx, idx+1)
}

// diff computes the added/removed sets between two project lists by id.
func diff(old, updated []Project) Change {
	var change Change
	for i := range updated {
		if indexByID(old, updated[i].ID) < 0 {
			change.Added = append(change.Added, updated[i])
		}
	}
	for i := range old {
		if indexByID(updated, old[i].ID) < 0 {
			change.Removed = append(change.Removed, old[i])
		}
	}
	return change
}
