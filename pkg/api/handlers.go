package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gw2clears/clearoor/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// groupView is a clear group together with its member clears.
type groupView struct {
	Group  *store.InstanceClearGroup `json:"group"`
	Clears []store.InstanceClear     `json:"clears"`
}

// handleClearsForDay returns every group type's clears for one
// YYYYMMDD date.
func (s *server) handleClearsForDay(w http.ResponseWriter, r *http.Request) {
	day, err := time.ParseInLocation("20060102", chi.URLParam(r, "date"), time.Local)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid date, expected YYYYMMDD"})

		return
	}

	views := make([]groupView, 0, 4)

	for _, groupType := range []string{
		store.GroupRaid, store.GroupStrike, store.GroupFractal, store.GroupGolem,
	} {
		group, err := s.store.GroupByName(r.Context(), store.GroupName(groupType, day))
		if err != nil {
			continue
		}

		clears, err := s.store.ClearsForGroup(r.Context(), group.ID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{"loading clears"})

			return
		}

		views = append(views, groupView{Group: group, Clears: clears})
	}

	writeJSON(w, http.StatusOK, views)
}

// handleGroup returns one clear group by its unique name.
func (s *server) handleGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.store.GroupByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"clear group not found"})

		return
	}

	clears, err := s.store.ClearsForGroup(r.Context(), group.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{"loading clears"})

		return
	}

	writeJSON(w, http.StatusOK, groupView{Group: group, Clears: clears})
}

// leaderboardEntry is one boss with its fastest kills.
type leaderboardEntry struct {
	Encounter store.Encounter `json:"encounter"`
	Logs      []store.DpsLog  `json:"logs"`
}

const leaderboardDepth = 3

// handleLeaderboard returns the fastest kills per boss for one
// instance group type.
func (s *server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	groupType := chi.URLParam(r, "type")

	encounters, err := s.store.DurationEncounters(r.Context(), groupType)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{"loading encounters"})

		return
	}

	if len(encounters) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{"unknown group type"})

		return
	}

	entries := make([]leaderboardEntry, 0, len(encounters))

	for _, enc := range encounters {
		cm, lcm := enc.LeaderboardFlavor()

		logs, err := s.store.SuccessfulLogsForEncounter(r.Context(), enc.ID, cm, lcm)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{"loading logs"})

			return
		}

		if len(logs) > leaderboardDepth {
			logs = logs[:leaderboardDepth]
		}

		entries = append(entries, leaderboardEntry{Encounter: enc, Logs: logs})
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleLog returns a single log row by id.
func (s *server) handleLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid log id"})

		return
	}

	row, err := s.store.DpsLogByID(r.Context(), uint(id))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"log not found"})

		return
	}

	writeJSON(w, http.StatusOK, row)
}
