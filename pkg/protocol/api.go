// Package protocol defines the API request/response types.
package protocol

import "time"

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// DirEntry is a subdirectory in a BrowseResponse.
type DirEntry struct {
	Name string `json:"name"`
}

// FileEntry is a file in a BrowseResponse, and the body of a successful
// upload.
type FileEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// BrowseResponse is returned by GET /api/v1/browse?path=
type BrowseResponse struct {
	Path         string      `json:"path"`
	AbsolutePath string      `json:"absolute_path"`
	Parent       *string     `json:"parent"`
	Directories  []DirEntry  `json:"directories"`
	Files        []FileEntry `json:"files"`
}

// CreateFolderRequest is the body for POST /api/v1/folders
type CreateFolderRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// RenameRequest is the body for POST /api/v1/rename
type RenameRequest struct {
	Path    string `json:"path"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// DeleteRequest is the body for POST /api/v1/delete. Type is "file" or
// "directory".
type DeleteRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// MutationResponse acknowledges a create, rename or delete.
type MutationResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// DiskUsage reports capacity of the filesystem holding the root.
type DiskUsage struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string     `json:"status"`
	Version string     `json:"version"`
	Disk    *DiskUsage `json:"disk,omitempty"`
}

// AuditEntry is one mutation attempt in an AuditResponse.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"request_id,omitempty"`
	RemoteAddr string    `json:"remote_addr"`
	Op         string    `json:"op"`
	Path       string    `json:"path"`
	Target     string    `json:"target,omitempty"`
	Outcome    string    `json:"outcome"`
}

// AuditResponse is returned by GET /api/v1/audit?limit=
type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}
