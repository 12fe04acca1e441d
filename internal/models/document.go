// Package models defines the domain types shared by the host packages.
package models

import "time"

// DocumentInfo is a lightweight description of a vault document.
type DocumentInfo struct {
	Path      string    `json:"path"`
	Title     string    `json:"title,omitempty"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Revision is one recorded version of a document body.
type Revision struct {
	ID          int64     `json:"id"`
	DocPath     string    `json:"doc_path"`
	Source      string    `json:"source"`
	Checksum    string    `json:"checksum"`
	Markdown    string    `json:"markdown,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Revision sources.
const (
	SourceOpen = "open"
	SourceSave = "save"
	SourceAI   = "ai"
	SourceDisk = "disk"
)
