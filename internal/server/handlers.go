package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jonathan/company-researcher/internal/db"
	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/jobs"
	"github.com/jonathan/company-researcher/internal/types"
)

// keepAliveInterval is how often an idle SSE stream gets a comment ping.
const keepAliveInterval = 15 * time.Second

// handleSubmit starts a new research job.
// POST /research
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var input types.JobInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	job, err := s.orchestrator.Submit(input)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"id":         job.ID,
		"phase":      string(job.Phase),
		"events_url": fmt.Sprintf("/research/%s/events", job.ID),
	})
}

// handleGetJob returns a job's current state.
// GET /research/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if job, ok := s.orchestrator.Manager().Get(id); ok {
		s.jsonResponse(w, http.StatusOK, job)
		return
	}

	// Not in memory: maybe from a previous process, restorable from the
	// durable event log.
	if s.db != nil {
		job, err := s.db.RestoreJob(r.Context(), id)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		if job != nil {
			s.jsonResponse(w, http.StatusOK, job)
			return
		}
	}

	s.errorResponse(w, http.StatusNotFound, "job not found: "+id)
}

// handleEvents streams a job's event log over SSE. Supports resume via
// ?after=<seq> or the Last-Event-ID header, and full-state resync via
// ?snapshot=1.
// GET /research/{id}/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, ok := s.orchestrator.Manager().Get(id); !ok {
		s.errorResponse(w, http.StatusNotFound, "job not found: "+id)
		return
	}

	var opts []events.SubscribeOption
	if r.URL.Query().Get("snapshot") == "1" {
		snap, ok := s.orchestrator.Snapshot(id)
		if !ok {
			s.errorResponse(w, http.StatusNotFound, "job not found: "+id)
			return
		}
		opts = append(opts, events.WithSnapshot(snap))
	} else if after := resumePoint(r); after > 0 {
		opts = append(opts, events.After(after))
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	sub := s.orchestrator.Broadcaster().Subscribe(id, opts...)
	defer sub.Close()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.WriteComment("ping"); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sse.WriteEvent(ev.Seq, string(ev.Type), ev); err != nil {
				return
			}
			if ev.Type.Terminal() {
				return
			}
			// A snapshot of an already-finished job is the whole stream.
			if snap, isSnap := ev.Payload.(events.Snapshot); isSnap && jobs.Phase(snap.Phase).Terminal() {
				return
			}
		}
	}
}

// resumePoint reads the resume sequence from ?after= or Last-Event-ID.
func resumePoint(r *http.Request) uint64 {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

// handleReport returns a completed job's report as Markdown.
// GET /research/{id}/report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if job, ok := s.orchestrator.Manager().Get(id); ok {
		if job.Phase != jobs.PhaseCompleted {
			s.errorResponse(w, http.StatusConflict,
				fmt.Sprintf("job is %s, report only exists for completed jobs", job.Phase))
			return
		}
		writeMarkdown(w, job.Result)
		return
	}

	if s.db != nil {
		report, err := s.db.GetReport(r.Context(), id)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		if report != "" {
			writeMarkdown(w, report)
			return
		}
	}

	s.errorResponse(w, http.StatusNotFound, "report not found: "+id)
}

func writeMarkdown(w http.ResponseWriter, report string) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(report)); err != nil {
		log.Printf("Error writing report: %v", err)
	}
}

// handleCancel stops a running job.
// POST /research/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.orchestrator.Cancel(id); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "cancelling",
	})
}

// handleListJobs lists persisted jobs with optional filters.
// GET /research?company=&phase=&limit=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.errorResponse(w, http.StatusNotImplemented, "job listing requires a configured database")
		return
	}

	filters := db.JobFilters{
		Company: r.URL.Query().Get("company"),
		Phase:   r.URL.Query().Get("phase"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.errorResponse(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		filters.Limit = limit
	}

	out, err := s.db.ListJobs(r.Context(), filters)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if out == nil {
		out = []db.JobSummary{}
	}
	s.jsonResponse(w, http.StatusOK, out)
}

// handleDeleteJob removes a finished job from storage and drops its
// in-memory event log.
// DELETE /research/{id}
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if job, ok := s.orchestrator.Manager().Get(id); ok && !job.Phase.Terminal() {
		s.errorResponse(w, http.StatusConflict, "cannot delete a running job, cancel it first")
		return
	}

	if s.db != nil {
		if err := s.db.DeleteJob(r.Context(), id); err != nil {
			s.errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
	}
	s.orchestrator.Broadcaster().Drop(id)

	s.jsonResponse(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}
