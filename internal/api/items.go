package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marcus/boardsync/internal/models"
)

// CreateItemRequest is the JSON body for POST /items.
type CreateItemRequest struct {
	Title       string `json:"title"`
	ListID      string `json:"listId"`
	Description string `json:"description,omitempty"`
}

// handleListItems handles GET /items.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Items(r.Context())
	if err != nil {
		writeServiceError(w, r, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetItem handles GET /items/{id}.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, err := s.service.Item(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// handleCreateItem handles POST /items.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	it, err := s.service.CreateItem(r.Context(), req.ListID, req.Title, req.Description)
	if err != nil {
		writeServiceError(w, r, "create item", err)
		return
	}
	s.metrics.RecordMutation()
	writeJSON(w, http.StatusCreated, it)
}

// handleUpdateItem handles PATCH /items/{id}. Fields left out of the body
// are unchanged.
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch models.ItemPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	it, err := s.service.UpdateItem(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeServiceError(w, r, "update item", err)
		return
	}
	s.metrics.RecordMutation()
	writeJSON(w, http.StatusOK, it)
}

// handleDeleteItem handles DELETE /items/{id} and returns the removed item.
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	it, err := s.service.DeleteItem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, "delete item", err)
		return
	}
	s.metrics.RecordMutation()
	writeJSON(w, http.StatusOK, it)
}
