package models

// Upload statuses reported to clients.
const (
	StatusOk = "Ok"
	StatusKo = "Ko"
)

// StoredFileDescriptor describes one completed upload. Protected is nil for
// uploads routed to the archive staging directory.
type StoredFileDescriptor struct {
	Status     string `json:"status"`
	Filename   string `json:"filename"`
	StoredPath string `json:"stored_path"`
	Timestamp  int64  `json:"timestamp"`
	Protected  *bool  `json:"protected,omitempty"`
	Size       int64  `json:"size"`

	// Written is set when this request stored the file. Directory summaries
	// leave it false.
	Written bool `json:"-"`
}

// ArchiveJobResult is returned by pack and unpack.
type ArchiveJobResult struct {
	Status  string `json:"status"`
	Path    string `json:"path"`
	Entries int    `json:"entries"`
}

// PathResource is one entry of a directory listing.
type PathResource struct {
	Name             string `json:"name"`
	LastModifiedTime int64  `json:"last_modified_time"`
	Size             int64  `json:"size"`
	Directory        bool   `json:"directory"`
	Path             string `json:"path"`
	ProtectedFolder  bool   `json:"protected_folder"`
}
