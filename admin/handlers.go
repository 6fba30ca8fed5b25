// Package admin exposes the operational HTTP surface: health, pipeline
// stats, Prometheus metrics, and manual recovery of halted tables.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/arrowglass/ledgersink/batcher"
	"github.com/arrowglass/ledgersink/tracker"
	"github.com/arrowglass/ledgersink/writer"
	"github.com/rs/zerolog/log"
)

// Handlers serves the admin API over the pipeline components.
type Handlers struct {
	tracker *tracker.Tracker
	batcher *batcher.Batcher
	writer  *writer.Writer
}

// NewHandlers creates a Handlers instance over the live pipeline.
func NewHandlers(trk *tracker.Tracker, bat *batcher.Batcher, wr *writer.Writer) *Handlers {
	return &Handlers{
		tracker: trk,
		batcher: bat,
		writer:  wr,
	}
}

type statsResponse struct {
	PendingSlots     int               `json:"pending_slots"`
	HeldEvents       int               `json:"held_events"`
	PendingBatches   int64             `json:"pending_batches"`
	BufferedMutation int               `json:"buffered_mutations"`
	HaltedTables     map[string]string `json:"halted_tables"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if halted := h.writer.Halted(); len(halted) > 0 {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"halted": halted,
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, statsResponse{
		PendingSlots:     h.tracker.PendingSlots(),
		HeldEvents:       h.tracker.HeldEvents(),
		PendingBatches:   h.batcher.PendingBatches(),
		BufferedMutation: h.batcher.BufferedMutations(),
		HaltedTables:     h.writer.Halted(),
	})
}

// handleResumeTable clears a table's halt after the operator fixed the
// underlying permanent failure (schema, permissions, quota).
func (h *Handlers) handleResumeTable(w http.ResponseWriter, r *http.Request, table string) {
	if !h.writer.Resume(table) {
		writeErrorResponse(w, http.StatusNotFound, "table is not halted: "+table)
		return
	}
	log.Info().Str("table", table).Msg("Table resumed by operator")
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"resumed": table})
}

func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, map[string]interface{}{"error": message})
}
