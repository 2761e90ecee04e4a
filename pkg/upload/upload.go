// Package upload copies result databases to remote object storage.
package upload

import "context"

// Uploader uploads result files to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable
	// by writing a small test object.
	Preflight(ctx context.Context) error

	// UploadFile uploads localPath under the configured prefix as name, or
	// as the file's basename when name is empty. It returns the object key.
	UploadFile(ctx context.Context, localPath, name string) (string, error)
}
