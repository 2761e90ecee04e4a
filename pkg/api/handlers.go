package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethpandaops/resultsdb/pkg/store"
	"github.com/go-chi/chi/v5"
)

const maxExecutionsLimit = 1000

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// summaryResponse is the payload of the summary endpoint.
type summaryResponse struct {
	TestCases  int                 `json:"test_cases"`
	Executions int64               `json:"executions"`
	Statuses   []store.StatusCount `json:"statuses"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})

		return
	}

	s.log.WithError(err).Error("Store query failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSummary returns row counts and per-status totals.
func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cases, err := s.store.ListTestCases(ctx)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	count, err := s.store.CountExecutions(ctx)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	statuses, err := s.store.StatusSummary(ctx)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		TestCases:  len(cases),
		Executions: count,
		Statuses:   statuses,
	})
}

func (s *server) handleListTestCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.store.ListTestCases(r.Context())
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, cases)
}

// handleGetTestCase returns one test case with its executions.
func (s *server) handleGetTestCase(w http.ResponseWriter, r *http.Request) {
	tc, err := s.store.GetTestCase(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, tc)
}

func (s *server) handleListTestCaseExecutions(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseExecutionFilter(w, r)
	if !ok {
		return
	}

	filter.TestName = chi.URLParam(r, "name")

	s.listExecutions(w, r, filter)
}

// handleListExecutions lists executions filtered by the status, test_name,
// limit and slowest query parameters.
func (s *server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseExecutionFilter(w, r)
	if !ok {
		return
	}

	s.listExecutions(w, r, filter)
}

func (s *server) listExecutions(w http.ResponseWriter, r *http.Request, filter store.ExecutionFilter) {
	execs, err := s.store.ListExecutions(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, execs)
}

// parseExecutionFilter reads the query parameters, writing a 400 response
// and returning false when they are invalid. Status is matched verbatim, so
// outcomes other than passed, failed and skipped can be queried too.
func parseExecutionFilter(w http.ResponseWriter, r *http.Request) (store.ExecutionFilter, bool) {
	q := r.URL.Query()

	filter := store.ExecutionFilter{
		TestName: q.Get("test_name"),
		Status:   q.Get("status"),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return filter, false
		}

		filter.Limit = min(limit, maxExecutionsLimit)
	}

	if raw := q.Get("slowest"); raw != "" {
		slowest, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid slowest"})

			return filter, false
		}

		filter.SlowestFirst = slowest
	}

	return filter, true
}
