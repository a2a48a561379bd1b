package api

import (
	"net/http"
	"strconv"

	"codeberg.org/mutker/cpufreqctl/internal/action"
	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/monitor"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

type stateResponse struct {
	monitor.State
	Running          bool `json:"running"`
	ModeAutoSwitched bool `json:"mode_auto_switched"`
}

type settingBody struct {
	Key   string `json:"key,omitempty"`
	Value any    `json:"value"`
}

type enabledBody struct {
	Enabled bool `json:"enabled"`
}

type reconcileResponse struct {
	Disabled []string `json:"disabled"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) stateOf(st monitor.State) stateResponse {
	return stateResponse{
		State:            st,
		Running:          s.deps.Engine.Running(),
		ModeAutoSwitched: s.deps.Engine.ModeAutoSwitched(),
	}
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateOf(s.deps.Engine.State()))
}

func (s *Server) startMonitor(w http.ResponseWriter, _ *http.Request) {
	if !s.deps.Settings.Snapshot().FrequencyDetectionEnabled {
		writeError(w, errors.New().WithMessage(errors.ErrUnavailable, "frequency detection is disabled"))
		return
	}
	s.deps.Engine.Start()
	writeJSON(w, http.StatusOK, s.stateOf(s.deps.Engine.State()))
}

func (s *Server) stopMonitor(w http.ResponseWriter, _ *http.Request) {
	s.deps.Engine.Stop()
	writeJSON(w, http.StatusOK, s.stateOf(s.deps.Engine.State()))
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Engine.RefreshNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stateOf(st))
}

func (s *Server) listSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Snapshot())
}

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.deps.Settings.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingBody{Key: key, Value: value})
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body settingBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Settings.Set(key, body.Value); err != nil {
		writeError(w, err)
		return
	}

	value, err := s.deps.Settings.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingBody{Key: key, Value: value})
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Plans.Plans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) activatePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Plans.Activate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) duplicatePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.deps.Plans.Duplicate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) renamePlan(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Plans.Rename(r.Context(), chi.URLParam(r, "id"), req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportPlan writes the plan to a path on the daemon's host.
func (s *Server) exportPlan(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Plans.Export(r.Context(), chi.URLParam(r, "id"), req.Path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) importPlan(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	plan, err := s.deps.Plans.Import(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// deletePlan removes a plan and disables the trigger actions that used it.
func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Plans.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	disabled, err := s.deps.Actions.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if disabled == nil {
		disabled = []string{}
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Disabled: disabled})
}

func (s *Server) listActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Actions.List())
}

func (s *Server) saveAction(w http.ResponseWriter, r *http.Request) {
	var a action.TriggerAction
	if err := decodeJSON(r, &a); err != nil {
		writeError(w, err)
		return
	}

	saved, err := s.deps.Actions.Save(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if a.ID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (s *Server) deleteAction(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Actions.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setActionEnabled(w http.ResponseWriter, r *http.Request) {
	var body enabledBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.deps.Actions.SetEnabled(r.Context(), id, body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": body.Enabled})
}

func (s *Server) recentSamples(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, errors.New().WithData(errors.ErrInvalidArgument, "limit"))
			return
		}
		limit = n
	}

	samples, err := s.deps.History.RecentSamples(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// streamEvents upgrades to a websocket that receives every bus event as JSON.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, clientSendQueue),
		remote: r.RemoteAddr,
	}
	if !s.hub.attach(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
