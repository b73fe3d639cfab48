package models

import "time"

// Event subjects published on the cds-events stream.
const (
	SubjectFileUploaded    = "cds.files.uploaded"
	SubjectFileDeleted     = "cds.files.deleted"
	SubjectFileInfected    = "cds.files.infected"
	SubjectArchivePacked   = "cds.archives.packed"
	SubjectArchiveUnpacked = "cds.archives.unpacked"
)

// Event is the payload published for every mutation of the data tree.
type Event struct {
	Action    string    `json:"action"`
	Path      string    `json:"path"`
	Filename  string    `json:"filename,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Protected *bool     `json:"protected,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	Action    string
	Path      string
	Filename  string
	Size      int64
	Protected *bool
	RequestID string
	At        time.Time
}
