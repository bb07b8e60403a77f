// Package api hosts the HTTP handlers that front the stream gateway: token
// issuance, device start/stop-stream, stream listing/detail/health/consume,
// HLS playlist/segment serving, and snapshot/bookmark CRUD, per spec.md §6.
//
// Handlers coordinate request validation, bearer-token authorization, and
// response shaping while delegating to storage.Repository, the
// orchestrator.Orchestrator façade, the hls.Registry, and the
// extraction.Pool injected into Handler at construction time. The package
// does not reach for globals; callers must supply fully configured
// dependencies.
//
// Handler implementations assume upstream middleware from internal/server
// has already attached request-id and logging context. Every non-2xx
// response uses the error envelope defined in errors.go.
package api
