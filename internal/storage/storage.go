// Package storage defines the StorageOperate contract ResourceStager
// downloads resources through, kept deliberately thin: the object store
// itself (HDFS/S3/MinIO) is an external collaborator out of this repo's
// scope.
package storage

import "context"

// Operate resolves a resource's remote path under a tenant and downloads
// it to the local filesystem. Implementations may assume ResolveResourcePath
// is pure (no I/O) and Download is the only side-effecting call.
type Operate interface {
	ResolveResourcePath(tenantCode, fullName string) string
	Download(ctx context.Context, tenantCode, remotePath, localPath string, deleteSource, overwrite bool) error
}
