// Package stage defines the contract between the pipeline manager and the
// stages it drives.
package stage

import (
	"context"

	"nexus/internal/catalog"
)

// Handler describes the contract the pipeline manager needs from each stage.
// Prepare runs cheap validation before the stage is attempted; Execute does
// the work, mutating the job and media rows it is handed. The manager owns
// persistence of both rows.
type Handler interface {
	Prepare(context.Context, *catalog.Job, *catalog.MediaItem) error
	Execute(context.Context, *catalog.Job, *catalog.MediaItem) error
	HealthCheck(context.Context) Health
}
