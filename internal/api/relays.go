package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relay-core/internal/relay"
)

// defaultHistoryLimit and maxHistoryLimit bound GET /relays/{number}/history.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// RelayResponse is the JSON form of a relay.
type RelayResponse struct {
	Number  int                  `json:"number"`
	Label   string               `json:"label"`
	Pin     int                  `json:"pin"`
	Channel relay.MonitorChannel `json:"channel"`
	Status  relay.Status         `json:"status"`
}

func newRelayResponse(r relay.Relay) RelayResponse {
	return RelayResponse{
		Number:  r.Number(),
		Label:   r.Label(),
		Pin:     r.Pin(),
		Channel: r.Channel(),
		Status:  r.Status(),
	}
}

// CreateRelayRequest is the body of POST /relays.
type CreateRelayRequest struct {
	Number  int    `json:"number"`
	Pin     int    `json:"pin"`
	Channel string `json:"channel"`
	Label   string `json:"label"`
}

// UpdateRelayRequest is the body of PATCH /relays/{number}. Absent fields
// are left unchanged.
type UpdateRelayRequest struct {
	Pin     *int    `json:"pin"`
	Channel *string `json:"channel"`
	Label   *string `json:"label"`
}

// BatchRequest is the body of POST /relays/on and /relays/off.
type BatchRequest struct {
	Numbers []int `json:"numbers"`
}

// CommandResponse reports the transport outcome of a command.
type CommandResponse struct {
	Numbers  []int  `json:"numbers"`
	Command  string `json:"command"`
	Delivery string `json:"delivery"`
}

// numberParam parses the {number} URL parameter.
func numberParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "number")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid relay number %q", raw)
	}
	return n, nil
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// handleListRelays returns every relay ordered by number.
func (s *Server) handleListRelays(w http.ResponseWriter, _ *http.Request) {
	relays := s.manager.List()
	out := make([]RelayResponse, 0, len(relays))
	for _, r := range relays {
		out = append(out, newRelayResponse(r))
	}
	writeJSON(w, http.StatusOK, map[string]any{"relays": out, "count": len(out)})
}

// handleCreateRelay registers a relay. Its status starts Uninitialized.
func (s *Server) handleCreateRelay(w http.ResponseWriter, r *http.Request) {
	var req CreateRelayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	channel, err := relay.ParseMonitorChannel(req.Channel)
	if err != nil {
		s.writeRelayError(w, r, err)
		return
	}
	rel, err := relay.New(req.Number, req.Pin, channel, req.Label)
	if err != nil {
		s.writeRelayError(w, r, err)
		return
	}
	if err := s.manager.Add(rel); err != nil {
		s.writeRelayError(w, r, err)
		return
	}

	created, err := s.manager.Get(req.Number)
	if err != nil {
		s.writeRelayError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/relays/%d", req.Number))
	writeJSON(w, http.StatusCreated, newRelayResponse(created))
}

// handleGetRelay returns a single relay.
func (s *Server) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	n, err := numberParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rel, err := s.manager.Get(n)
	if err != nil {
		s.writeRelayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRelayResponse(rel))
}

// handleUpdateRelay changes a relay's pin, channel or label. The number and
// cached status cannot be changed.
func (s *Server) handleUpdateRelay(w http.ResponseWriter, r *http.Request) {
	n, err := numberParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req UpdateRelayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var channel relay.MonitorChannel
	if req.Channel != nil {
		if channel, err = relay.ParseMonitorChannel(*req.Channel); err != nil {
			s.writeRelayError(w, r, err)
			return
		}
	}

	updated, err := s.manager.Update(n, func(rel *relay.Relay) error {
		if req.Pin != nil {
			if err := rel.SetPin(*req.Pin); err != nil {
				return err
			}
		}
		if req.Channel != nil {
			if err := rel.SetChannel(channel); err != nil {
				return err
			}
		}
		if req.Label != nil {
			return rel.SetLabel(*req.Label)
		}
		return nil
	})
	if err != nil {
		s.writeRelayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRelayResponse(updated))
}

// handleDeleteRelay unregisters a relay. 404 if it was not registered.
func (s *Server) handleDeleteRelay(w http.ResponseWriter, r *http.Request) {
	n, err := numberParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if !s.manager.Remove(n) {
		s.writeRelayError(w, r, fmt.Errorf("%w: %d", relay.ErrInvalidNumber, n))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetStatus returns the cached status. It never queries the board.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	n, err := numberParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	status, err := s.manager.CachedStatus(n)
	if err != nil {
		s.writeRelayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"number": n, "status": status})
}

// handleSwitch commands one relay. 200 means the radio confirmed delivery,
// not that the relay switched.
func (s *Server) handleSwitch(cmd relay.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := numberParam(r)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}

		delivery, err := s.manager.Switch(r.Context(), cmd, n)
		s.writeCommandResult(w, r, []int{n}, cmd, delivery, err)
	}
}

// handleSwitchAll commands several relays in one call.
func (s *Server) handleSwitchAll(cmd relay.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		if req.Numbers == nil {
			writeBadRequest(w, "numbers is required")
			return
		}

		delivery, err := s.manager.SwitchAll(r.Context(), cmd, req.Numbers)
		s.writeCommandResult(w, r, req.Numbers, cmd, delivery, err)
	}
}

func (s *Server) writeCommandResult(w http.ResponseWriter, r *http.Request, numbers []int, cmd relay.Command, delivery relay.Delivery, err error) {
	if err == nil {
		err = delivery.Err()
	}
	if err != nil {
		s.writeRelayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{
		Numbers:  numbers,
		Command:  cmd.String(),
		Delivery: delivery.String(),
	})
}

// handleRefresh asks the manager to query the board. Push managers answer
// 501.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := numberParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	status, err := s.manager.RefreshStatus(r.Context(), n)
	if err != nil {
		s.writeRelayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"number": n, "status": status})
}

// handleHistory returns status changes newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50, max 1000)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n, err := numberParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if s.history == nil {
		s.writeRelayError(w, r, fmt.Errorf("%w: history not configured", relay.ErrUnsupported))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(limit, maxHistoryLimit)
	}

	entries, err := s.history.History(r.Context(), n, limit)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeInternalError(w, "failed to load history")
		return
	}
	if entries == nil {
		entries = []relay.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"number": n, "history": entries, "count": len(entries)})
}
