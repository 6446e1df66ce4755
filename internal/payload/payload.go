// Package payload re-exports the payload storage abstractions and selects a
// backend from the environment.
package payload

import (
	"context"
	"fmt"
	"os"

	"splitlab/internal/payload/core"
	fsstore "splitlab/internal/payload/fs"
	memstore "splitlab/internal/payload/memory"
	s3store "splitlab/internal/payload/s3"
)

type (
	// Driver identifies a payload backend driver.
	Driver = core.Driver
	// PutOptions configures a payload write.
	PutOptions = core.PutOptions
	// Info describes stored payload metadata.
	Info = core.Info
	// Store is the interface for payload storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrNotFound indicates the payload key does not exist.
var ErrNotFound = core.ErrNotFound

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = core.ErrUnsupported

// NewMemory returns the in-memory payload store.
func NewMemory() Store { return memstore.New() }

// NewFilesystem returns a filesystem payload store rooted at root
// (default ./payloaddata).
func NewFilesystem(root string) (Store, error) {
	if root == "" {
		root = "./payloaddata"
	}
	return fsstore.New(root)
}

// Open selects a payload Store implementation using environment variables.
//
//	SPLITLAB_PAYLOAD_DRIVER: fs|s3|memory (default fs)
//	SPLITLAB_PAYLOAD_FS_ROOT: directory root when driver=fs (default ./payloaddata)
//	(S3 specific variables documented in s3/store.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("SPLITLAB_PAYLOAD_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("SPLITLAB_PAYLOAD_FS_ROOT"))
	case DriverS3:
		return s3store.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown payload driver %s", driver)
	}
}
