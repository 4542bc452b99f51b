package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marcus/boardsync/internal/position"
)

// CreateListRequest is the JSON body for POST /lists.
type CreateListRequest struct {
	Title    string `json:"title"`
	Position *int   `json:"position,omitempty"`
}

// RepairResponse is the JSON body returned by POST /lists/{id}/repair.
type RepairResponse struct {
	Renumbered []position.Renumber `json:"renumbered"`
}

// handleListLists handles GET /lists.
func (s *Server) handleListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.service.Lists(r.Context())
	if err != nil {
		writeServiceError(w, r, "list lists", err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

// handleCreateList handles POST /lists.
func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req CreateListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	l, err := s.service.CreateList(r.Context(), req.Title, req.Position)
	if err != nil {
		writeServiceError(w, r, "create list", err)
		return
	}
	s.metrics.RecordMutation()
	writeJSON(w, http.StatusCreated, l)
}

// handleDeleteList handles DELETE /lists/{id}.
func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	res, err := s.service.DeleteList(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "delete list", err)
		return
	}
	s.metrics.RecordMutation()
	writeJSON(w, http.StatusOK, res)
}

// handleRepairList handles POST /lists/{id}/repair.
func (s *Server) handleRepairList(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	changes, err := s.service.RepairList(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "repair list", err)
		return
	}
	if len(changes) > 0 {
		s.metrics.RecordMutation()
		logFor(r.Context()).Info("list repaired", "list", id, "renumbered", len(changes))
	}
	writeJSON(w, http.StatusOK, RepairResponse{Renumbered: changes})
}
