package model

import "time"

// Entry is a diary entry, the input to memory extraction.
type Entry struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	CreatedAt   time.Time  `json:"created_at"`
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`
}

// ExportVersion is bumped whenever the export layout changes.
const ExportVersion = 1

// ExportPayload is the transportable form of the memory set.
type ExportPayload struct {
	Version     int            `json:"version" yaml:"version"`
	ExportedAt  time.Time      `json:"exported_at" yaml:"exported_at"`
	MemoryLimit int            `json:"memory_limit" yaml:"memory_limit"`
	Memories    []Memory       `json:"memories" yaml:"memories"`
	Batches     []ArchiveBatch `json:"archive_batches,omitempty" yaml:"archive_batches,omitempty"`
}
