package models

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// path resolution
	ErrPathTraversal     = errors.New("path traversal rejected")
	ErrDirectoryCreation = errors.New("directory creation failed")

	// stream writing
	ErrFileCreate = errors.New("file create failed")
	ErrWrite      = errors.New("write failed")

	// upload parsing
	ErrMissingRoutingFields = errors.New("path and protected must precede file")
	ErrInvalidProtectedFlag = errors.New("protected must be true or false")
	ErrMalformedField       = errors.New("malformed multipart field")

	// archives
	ErrSourceNotFound     = errors.New("source not found")
	ErrArchiveNotFound    = errors.New("archive not found")
	ErrUnsafeArchiveEntry = errors.New("unsafe archive entry rejected")
	ErrMalformedArchive   = errors.New("malformed archive")
	ErrArchiveRemove      = errors.New("archive removal failed")
)
