package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/malbeclabs/lolly/engine/pkg/event"
	"github.com/malbeclabs/lolly/monitor/pkg/store"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// parsePagination clamps limit to MaxLimit and ignores malformed values.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = DefaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, MaxLimit)
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func parseSeq(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid %s: %q", name, v)
	}
	return &n, nil
}

type eventResponse struct {
	EventID      int64         `json:"event_id"`
	Version      uint8         `json:"version"`
	Kind         string        `json:"kind"`
	Signature    string        `json:"signature"`
	Slot         uint64        `json:"slot"`
	BlockTime    int64         `json:"block_time"`
	IsBackfill   bool          `json:"is_backfill"`
	ErrorProgram *string       `json:"error_program,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	Payload      event.Payload `json:"payload,omitempty"`
	Raw          []byte        `json:"raw"`
}

func (s *Server) toEventResponse(row store.EventRow) eventResponse {
	resp := eventResponse{
		EventID:      row.EventID,
		Version:      row.Version,
		Kind:         row.Kind,
		Signature:    row.Signature,
		Slot:         row.Slot,
		BlockTime:    row.BlockTime,
		IsBackfill:   row.IsBackfill,
		ErrorProgram: row.ErrorProgram,
		ErrorMessage: row.ErrorMessage,
		Raw:          row.Data,
	}
	rec, err := event.Decode(row.Data)
	if err != nil {
		s.log.Warn("server: failed to decode stored event", "event_id", row.EventID, "error", err)
		return resp
	}
	resp.Payload = rec.Data
	return resp
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	from, err := parseSeq(r, "from")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseSeq(r, "to")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" {
		if _, err := event.ParseKind(kind); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	limit, offset := parsePagination(r)

	rows, total, err := s.cfg.Events.ListEvents(r.Context(), store.EventFilter{
		From: from, To: to, Kind: kind, Limit: limit, Offset: offset,
	})
	if err != nil {
		s.log.Error("server: failed to list events", "error", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to list events"))
		return
	}
	items := make([]eventResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, s.toEventResponse(row))
	}
	s.writeJSON(w, http.StatusOK, PaginatedResponse[eventResponse]{Items: items, Total: total, Limit: limit, Offset: offset})
}

type gapResponse struct {
	After   int64 `json:"after"`
	Before  int64 `json:"before"`
	Missing int64 `json:"missing"`
}

type gapsResponse struct {
	From         int64         `json:"from"`
	To           int64         `json:"to"`
	Gaps         []gapResponse `json:"gaps"`
	TotalMissing int64         `json:"total_missing"`
}

func (s *Server) gapsHandler(w http.ResponseWriter, r *http.Request) {
	from, err := parseSeq(r, "from")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseSeq(r, "to")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := gapsResponse{Gaps: []gapResponse{}}
	if from != nil {
		resp.From = *from
	}
	if to != nil {
		resp.To = *to
	} else {
		latest, ok, err := s.cfg.Events.LatestEventID(r.Context())
		if err != nil {
			s.log.Error("server: failed to read latest event", "error", err)
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read latest event"))
			return
		}
		if !ok {
			s.writeJSON(w, http.StatusOK, resp)
			return
		}
		resp.To = latest
	}
	if resp.To < resp.From {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("from %d is after to %d", resp.From, resp.To))
		return
	}

	gaps, err := s.cfg.Events.Gaps(r.Context(), resp.From, resp.To)
	if err != nil {
		s.log.Error("server: failed to query gaps", "error", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to query gaps"))
		return
	}
	for _, g := range gaps {
		resp.Gaps = append(resp.Gaps, gapResponse{After: g.After, Before: g.Before, Missing: g.Missing})
		resp.TotalMissing += g.Missing
	}
	s.writeJSON(w, http.StatusOK, resp)
}
