// Package hierarchy turns a flat object listing into the nodes of one
// directory level.
package hierarchy

import (
	"sort"
	"strings"

	"github.com/fruitsalade/blobfm/pkg/models"
)

// Prefix returns the listing prefix for the directory at path.
func Prefix(path string) string {
	path = strings.Trim(path, models.PathSeparator)
	if path == "" {
		return ""
	}
	return path + models.PathSeparator
}

// Translate maps entries listed under prefix to the files and immediate
// subdirectories of that directory. Directory marker objects never appear as
// files. Directories come first, then files, each ordered by name without
// regard to case; equal names keep their listing order.
func Translate(entries []models.ObjectEntry, prefix string) []models.FileSystemNode {
	nodes := make([]models.FileSystemNode, 0, len(entries))
	dirs := make(map[string]int)

	for _, e := range entries {
		if !strings.HasPrefix(e.Name, prefix) {
			continue
		}
		rest := e.Name[len(prefix):]
		if rest == "" {
			continue
		}

		i := strings.Index(rest, models.PathSeparator)
		if i < 0 {
			if rest == models.DirectoryMarker {
				continue
			}
			nodes = append(nodes, models.FileSystemNode{
				Name:       rest,
				Path:       e.Name,
				Size:       e.Length,
				ModifiedAt: e.LastModified,
			})
			continue
		}

		name := rest[:i]
		if name == "" {
			continue
		}
		idx, seen := dirs[name]
		if !seen {
			idx = len(nodes)
			dirs[name] = idx
			nodes = append(nodes, models.FileSystemNode{
				Name:        name,
				Path:        prefix + name,
				IsDirectory: true,
			})
		}

		dir := &nodes[idx]
		if e.LastModified.After(dir.ModifiedAt) {
			dir.ModifiedAt = e.LastModified
		}
		if strings.Contains(rest[i+1:], models.PathSeparator) {
			dir.HasSubDirectories = true
		}
	}

	sort.SliceStable(nodes, func(a, b int) bool {
		if nodes[a].IsDirectory != nodes[b].IsDirectory {
			return nodes[a].IsDirectory
		}
		return strings.ToLower(nodes[a].Name) < strings.ToLower(nodes[b].Name)
	})
	return nodes
}
