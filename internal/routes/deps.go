package routes

import (
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
	"github.com/coah80/reelup/internal/statuscache"
	"github.com/coah80/reelup/internal/storage"
	"github.com/coah80/reelup/internal/upload"
)

// Deps is everything the handlers reach for.
type Deps struct {
	Config   *config.Config
	Storage  storage.Backend
	Manager  *upload.Manager
	Reporter *upload.Reporter
	// Mirror is optional; task lookups fall back to it once the manager has
	// forgotten a task.
	Mirror *statuscache.Mirror
	Log    *zap.Logger
}
