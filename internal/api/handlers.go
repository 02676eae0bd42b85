// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwhitman/coursevault/internal/backup"
	"github.com/mwhitman/coursevault/internal/diag"
	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/store"
)

// Handler carries the persistence-layer collaborators the HTTP surface
// exposes.
type Handler struct {
	coord      *store.Coordinator
	reconciler *store.Reconciler
	backups    *backup.Manager
	probe      *diag.Probe
	startTime  time.Time
}

// NewHandler wires the admin API handlers.
func NewHandler(coord *store.Coordinator, reconciler *store.Reconciler, backups *backup.Manager, probe *diag.Probe) *Handler {
	return &Handler{
		coord:      coord,
		reconciler: reconciler,
		backups:    backups,
		probe:      probe,
		startTime:  time.Now(),
	}
}

// storeError maps persistence-layer errors onto HTTP responses.
func storeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *store.ValidationError
	switch {
	case errors.As(err, &ve):
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "record not found")
	case errors.Is(err, store.ErrBackendUnavailable):
		respondError(w, r, http.StatusConflict, "BACKEND_UNAVAILABLE", err.Error())
	case store.IsConnectionError(err):
		respondError(w, r, http.StatusBadGateway, "BACKEND_CONNECTION", err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		respondError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// HealthLive handles liveness probes: 200 whenever the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness probes: 200 once the file backend answers
// a connectivity check.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	for _, backend := range h.coord.Backends() {
		if backend.Name() == store.TierFile {
			if err := backend.TestConnection(r.Context()); err != nil {
				respondError(w, r, http.StatusServiceUnavailable, "NOT_READY", err.Error())
				return
			}
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Health returns the full diagnostic health object.
//
// @Summary Full persistence-layer health
// @Description Environment flags, backend connectivity, per-collection divergence, at-risk collections, recent events.
// @Tags Diagnostics
// @Produce json
// @Success 200 {object} APIResponse{data=diag.Health}
// @Router /api/v1/health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.probe.Health(r.Context())
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

// Divergence diagnoses one collection.
//
// @Summary Diagnose tier divergence for a collection
// @Tags Diagnostics
// @Produce json
// @Success 200 {object} APIResponse{data=store.DivergenceReport}
// @Router /api/v1/diagnostics/{collection} [get]
func (h *Handler) Divergence(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	report, err := h.reconciler.Diagnose(r.Context(), collection)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// reconcileRequest is the POST body for a repair.
type reconcileRequest struct {
	Strategy string `json:"strategy"`
	Source   string `json:"source"`
}

// Reconcile repairs one collection under an explicit authority choice.
// With no body or empty strategy, cache-authoritative is used.
//
// @Summary Repair tier divergence for a collection
// @Tags Diagnostics
// @Accept json
// @Produce json
// @Success 200 {object} APIResponse{data=store.RepairResult}
// @Router /api/v1/reconcile/{collection} [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	var req reconcileRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
	}

	result, err := h.reconciler.Repair(r.Context(), collection, req.Strategy, req.Source)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// BackupCreate produces a consolidated backup of every collection.
//
// @Summary Create a consolidated backup
// @Tags Backup
// @Produce json
// @Success 201 {object} APIResponse{data=backup.Backup}
// @Router /api/v1/backup [post]
func (h *Handler) BackupCreate(w http.ResponseWriter, r *http.Request) {
	b, err := h.backups.Create(r.Context(), backup.TriggerManual)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

// BackupLatest returns the most recent consolidated backup.
//
// @Summary Fetch the latest consolidated backup
// @Tags Backup
// @Produce json
// @Success 200 {object} APIResponse{data=backup.Backup}
// @Router /api/v1/backup [get]
func (h *Handler) BackupLatest(w http.ResponseWriter, r *http.Request) {
	b, err := h.backups.Latest(r.Context())
	if err != nil {
		storeError(w, r, err)
		return
	}
	if b == nil {
		respondError(w, r, http.StatusNotFound, "NO_BACKUP", "no backup exists")
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// BackupRestore restores the latest consolidated backup into the cache and
// active backend.
//
// @Summary Restore from the latest consolidated backup
// @Tags Backup
// @Produce json
// @Success 200 {object} APIResponse{data=backup.RestoreResult}
// @Router /api/v1/backup/restore [post]
func (h *Handler) BackupRestore(w http.ResponseWriter, r *http.Request) {
	b, err := h.backups.Latest(r.Context())
	if err != nil {
		storeError(w, r, err)
		return
	}
	if b == nil {
		respondError(w, r, http.StatusNotFound, "NO_BACKUP", "no backup exists")
		return
	}

	result, err := h.backups.Restore(r.Context(), b)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
