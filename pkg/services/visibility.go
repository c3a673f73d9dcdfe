package services

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/ordd/redash/pkg/auth"
	"github.com/ordd/redash/pkg/models"
)

// hasGroupAccess reports whether any of the requester's groups holds a
// grant on the data source.
func hasGroupAccess(requesterGroups []uuid.UUID, grants map[uuid.UUID]models.Permission) bool {
	for _, g := range requesterGroups {
		if _, ok := grants[g]; ok {
			return true
		}
	}
	return false
}

// viewOnly reports whether the requester's access to a data source is
// read-only. Grants are merged across every group the requester shares
// with the source: a single write grant in any shared group clears the
// flag. No shared grant at all also clears it, which only arises for
// admins since members never see unshared sources.
func viewOnly(requesterGroups []uuid.UUID, grants map[uuid.UUID]models.Permission) bool {
	shared := false
	for _, g := range requesterGroups {
		perm, ok := grants[g]
		if !ok {
			continue
		}
		shared = true
		if perm == models.PermissionWrite {
			return false
		}
	}
	return shared
}

// buildListing collapses repository rows into one entry per data
// source id: the first occurrence wins and later duplicates from
// overlapping group grants are dropped. The result is sorted ascending
// by id rather than trusting the row order the repository produced.
func buildListing(sources []*models.DataSource, claims *auth.Claims) []models.DataSourceListEntry {
	requesterGroups := claims.GroupIDs()

	entries := make([]models.DataSourceListEntry, 0, len(sources))
	seen := make(map[uuid.UUID]bool, len(sources))
	for _, ds := range sources {
		if seen[ds.ID] {
			continue
		}
		seen[ds.ID] = true

		entry := models.DataSourceListEntry{DataSource: ds}
		if !claims.IsAdmin() {
			entry.ViewOnly = viewOnly(requesterGroups, ds.Groups)
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].DataSource.ID, entries[j].DataSource.ID
		return bytes.Compare(a[:], b[:]) < 0
	})

	return entries
}
