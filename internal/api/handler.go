package api

import (
	"log/slog"

	"bitriver-live/internal/auth"
	"bitriver-live/internal/extraction"
	"bitriver-live/internal/hls"
	"bitriver-live/internal/orchestrator"
	"bitriver-live/internal/sfu"
	"bitriver-live/internal/storage"
)

// Handler aggregates the HTTP endpoints exposed by the stream gateway along
// with the collaborators they delegate to: persistence, the stream
// orchestrator façade, the HLS segment registry, the extraction worker
// pool, and the bearer-token authenticator. Construct with NewHandler.
type Handler struct {
	Store         storage.Repository
	Authenticator *auth.Authenticator
	Orchestrator  *orchestrator.Orchestrator
	HLS           *hls.Registry
	Extraction    *extraction.Pool
	SFU           *sfu.ControlClient
	Logger        *slog.Logger

	// RecordingsRoot is the directory segment files live under, one
	// subdirectory per stream id, mirroring transcoder.Config.RecordingsRoot.
	RecordingsRoot string
}

// NewHandler wires the core API dependencies together.
func NewHandler(store storage.Repository, authenticator *auth.Authenticator, orch *orchestrator.Orchestrator, registry *hls.Registry, pool *extraction.Pool, sfuClient *sfu.ControlClient, recordingsRoot string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:          store,
		Authenticator:  authenticator,
		Orchestrator:   orch,
		HLS:            registry,
		Extraction:     pool,
		SFU:            sfuClient,
		RecordingsRoot: recordingsRoot,
		Logger:         logger,
	}
}
