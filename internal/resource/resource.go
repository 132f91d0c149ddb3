// Package resource stages a task's declared resources into its local
// execution directory before handle() runs.
package resource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swarmguard/worker/internal/storage"
)

// ErrStorageNotConfigured is returned by PlanDownloads when resources are
// missing locally but the object-store feature is globally disabled.
var ErrStorageNotConfigured = errors.New("resource: object store is not configured")

// ErrDownloadFailed wraps the first per-file failure encountered during a
// batch Download.
type ErrDownloadFailed struct {
	FileName string
	Err      error
}

func (e *ErrDownloadFailed) Error() string {
	return fmt.Sprintf("resource: download %q failed: %v", e.FileName, e.Err)
}

func (e *ErrDownloadFailed) Unwrap() error { return e.Err }

// Download is one planned (fileName, tenantCode) pair awaiting transfer.
type Download struct {
	FileName   string
	TenantCode string
}

// Stager plans and executes resource downloads against a storage.Operate
// backend.
type Stager struct {
	Store                storage.Operate
	ResourceUploadEnabled bool
}

// New builds a Stager. store may be nil when uploads are globally disabled:
// PlanDownloads never uses it, and Download returns ErrStorageNotConfigured
// for a nil store.
func New(store storage.Operate, resourceUploadEnabled bool) *Stager {
	return &Stager{Store: store, ResourceUploadEnabled: resourceUploadEnabled}
}

// PlanDownloads returns the subset of resources (fileName -> tenantCode)
// not already present at execLocalPath/fileName. An empty or nil resources
// map is a no-op success. If any resource is missing and the object-store
// feature is disabled, it fails with ErrStorageNotConfigured.
func (s *Stager) PlanDownloads(execLocalPath string, resources map[string]string) ([]Download, error) {
	if len(resources) == 0 {
		return nil, nil
	}

	var missing []Download
	for fileName, tenantCode := range resources {
		localPath := filepath.Join(execLocalPath, fileName)
		if _, err := os.Stat(localPath); err == nil {
			continue
		}
		missing = append(missing, Download{FileName: fileName, TenantCode: tenantCode})
	}

	if len(missing) > 0 && !s.ResourceUploadEnabled {
		return nil, ErrStorageNotConfigured
	}
	return missing, nil
}

// Download fetches every planned download into execLocalPath, overwriting
// any partial file. The first failure aborts the batch; whatever was
// already written is left in place for WorkDirectory to clean up.
func (s *Stager) Download(ctx context.Context, execLocalPath string, downloads []Download) error {
	if len(downloads) == 0 {
		return nil
	}
	if s.Store == nil {
		return ErrStorageNotConfigured
	}

	for _, d := range downloads {
		remotePath := s.Store.ResolveResourcePath(d.TenantCode, d.FileName)
		localPath := filepath.Join(execLocalPath, d.FileName)
		if err := s.Store.Download(ctx, d.TenantCode, remotePath, localPath, false, true); err != nil {
			return &ErrDownloadFailed{FileName: d.FileName, Err: err}
		}
	}
	return nil
}
