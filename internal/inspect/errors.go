package inspect

import "fmt"

// UnreadableFileError marks a file the inspector could not parse at all:
// corrupt archives, unsupported legacy formats, undecodable bytes. Batch
// turns it into an error entry and moves on.
type UnreadableFileError struct {
	Path string
	Err  error
}

func (e *UnreadableFileError) Error() string {
	return fmt.Sprintf("unreadable file %s: %v", e.Path, e.Err)
}

func (e *UnreadableFileError) Unwrap() error { return e.Err }
