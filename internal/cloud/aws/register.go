package aws

import (
	"log/slog"

	"github.com/hugh/go-reclaim/internal/cloud"
)

// Register adds every AWS inspector and executor to reg.
func Register(reg *cloud.Registry, clients Clients, logger *slog.Logger) {
	reg.RegisterInspector(NewEC2Inspector(clients, logger))
	reg.RegisterInspector(NewS3Inspector(clients, logger))
	reg.RegisterInspector(NewRDSInspector(clients, logger))
	reg.RegisterInspector(NewELBInspector(clients, logger))

	reg.RegisterExecutor(NewEC2Terminator(clients))
	reg.RegisterExecutor(NewS3BucketDeleter(clients))
	reg.RegisterExecutor(NewRDSInstanceDeleter(clients))
	reg.RegisterExecutor(NewRDSSnapshotDeleter(clients))
	reg.RegisterExecutor(NewELBDeleter(clients))
}
