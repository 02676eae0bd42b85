// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mwhitman/coursevault/internal/store"
)

// decodeJSONBody decodes a bounded JSON request body.
func decodeJSONBody(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, 8<<20)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	return nil
}

func urlID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id must be a positive integer")
	}
	return id, nil
}

// CollectionList lists all records of a collection in insertion order.
//
// @Summary List collection records
// @Tags Collections
// @Produce json
// @Success 200 {object} APIResponse{data=[]store.Record}
// @Router /api/v1/collections/{collection} [get]
func (h *Handler) CollectionList(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	records, err := h.coord.List(r.Context(), collection)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondList(w, http.StatusOK, records, len(records))
}

// CollectionGet fetches one record by id.
//
// @Summary Get a record
// @Tags Collections
// @Produce json
// @Success 200 {object} APIResponse{data=store.Record}
// @Router /api/v1/collections/{collection}/{id} [get]
func (h *Handler) CollectionGet(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id, err := urlID(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	rec, err := h.coord.Get(r.Context(), collection, id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// CollectionCreate inserts a record. The id is assigned by the store; a
// caller-supplied id is rejected. The response carries the persisted flag
// so clients and tooling can see a cache-only write.
//
// @Summary Create a record
// @Tags Collections
// @Accept json
// @Produce json
// @Success 201 {object} APIResponse{data=store.PutResult}
// @Router /api/v1/collections/{collection} [post]
func (h *Handler) CollectionCreate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	var rec store.Record
	if err := decodeJSONBody(r, &rec); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	result, err := h.coord.Create(r.Context(), collection, rec)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// CollectionUpdate upserts a record under the id in the URL, which is
// authoritative over any id in the body.
//
// @Summary Update a record
// @Tags Collections
// @Accept json
// @Produce json
// @Success 200 {object} APIResponse{data=store.PutResult}
// @Router /api/v1/collections/{collection}/{id} [put]
func (h *Handler) CollectionUpdate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id, err := urlID(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	var rec store.Record
	if err := decodeJSONBody(r, &rec); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	rec.SetID(id)

	result, err := h.coord.Update(r.Context(), collection, rec)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// CollectionDelete removes a record. Deleting a non-existent id returns
// deleted=false rather than an error.
//
// @Summary Delete a record
// @Tags Collections
// @Produce json
// @Success 200 {object} APIResponse{data=store.DeleteResult}
// @Router /api/v1/collections/{collection}/{id} [delete]
func (h *Handler) CollectionDelete(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id, err := urlID(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	result, err := h.coord.Delete(r.Context(), collection, id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// CollectionBulkSet upserts a batch of records with one persist.
//
// @Summary Bulk upsert records
// @Tags Collections
// @Accept json
// @Produce json
// @Success 200 {object} APIResponse{data=store.BulkResult}
// @Router /api/v1/collections/{collection}/bulk [post]
func (h *Handler) CollectionBulkSet(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	var recs []store.Record
	if err := decodeJSONBody(r, &recs); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	result, err := h.coord.BulkSet(r.Context(), collection, recs)
	if err != nil {
		storeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
