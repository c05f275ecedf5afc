// Package models contains the data types shared by the store, the minter and clients.
package models

import (
	"strings"
	"time"
)

// DirectoryMarker is the name of the zero-length object that keeps an
// otherwise empty directory visible in listings. Minting and translation
// must agree on it exactly.
const DirectoryMarker = "aspxAzureEmptyFolderBlob"

// PathSeparator delimits logical path segments inside flat object names.
const PathSeparator = "/"

// ObjectEntry is one record of a flat store listing.
type ObjectEntry struct {
	Name         string    `json:"name"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	Length       int64     `json:"length"`
}

// FileSystemNode is a file or synthesized directory derived from a listing.
// It is built per listing call and never stored.
type FileSystemNode struct {
	Name              string    `json:"name"`
	Path              string    `json:"path"`
	IsDirectory       bool      `json:"isDirectory"`
	Size              int64     `json:"size"`
	ModifiedAt        time.Time `json:"dateModified"`
	HasSubDirectories bool      `json:"hasSubDirectories"`
}

// JoinPath joins logical path segments, skipping empty ones.
func JoinPath(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, PathSeparator)
}

// MarkerName returns the marker object name for the directory at path.
func MarkerName(dir string) string {
	return JoinPath(dir, DirectoryMarker)
}

// ParentPath returns the directory part of a logical path ("" for top-level items).
func ParentPath(path string) string {
	i := strings.LastIndex(path, PathSeparator)
	if i < 0 {
		return ""
	}
	return path[:i]
}

// BaseName returns the last segment of a logical path.
func BaseName(path string) string {
	return path[strings.LastIndex(path, PathSeparator)+1:]
}

// WithNewName replaces the last segment of path with name.
func WithNewName(path, name string) string {
	return JoinPath(ParentPath(path), name)
}
