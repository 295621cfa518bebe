package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dkoval/netpatch/pkg/inventory"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

// decodeRequest parses the common request body. An empty body is valid
// and means "all devices, default options".
func decodeRequest(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	if r.Body == nil || r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	return req, true
}

// resolveStatus maps a boundary error to an HTTP status.
func resolveStatus(err error) int {
	var notFound *inventory.NoDevicesFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]any{
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"vendors":    s.svc.Registry.Names(),
		"generators": s.svc.Generators.Names(),
	}})
}

func (s *Server) vendorsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: s.svc.Registry.Names()})
}

func (s *Server) generatorsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: s.svc.Generators.Names()})
}

// devicesHandler lists the devices a query resolves to. Query terms
// come comma-separated in ?query=, the slice in ?hosts_range=.
func (s *Server) devicesHandler(w http.ResponseWriter, r *http.Request) {
	var query []string
	if q := r.URL.Query().Get("query"); q != "" {
		query = strings.Split(q, ",")
	}
	devices, err := s.svc.ComputeDevices(query, r.URL.Query().Get("hosts_range"))
	if err != nil {
		writeError(w, resolveStatus(err), err.Error())
		return
	}
	entries := make([]DeviceEntry, len(devices))
	for i, d := range devices {
		entries[i] = DeviceEntry{
			ID:       d.ID,
			Hostname: d.Hostname,
			FQDN:     d.FQDN,
			Vendor:   d.Vendor,
			Tags:     d.Tags,
		}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: entries})
}

func (s *Server) genHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	results, err := s.svc.GenerateConfig(r.Context(), req.Query, req.HostsRange, req.Options)
	if err != nil {
		writeError(w, resolveStatus(err), err.Error())
		return
	}
	resp := textResponse(results)
	writeJSON(w, http.StatusOK, Response{Success: resp.Outcome != "failure", Data: resp})
}

func (s *Server) diffHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	results, err := s.svc.ComputeDiff(r.Context(), req.Query, req.HostsRange, req.Options)
	if err != nil {
		writeError(w, resolveStatus(err), err.Error())
		return
	}
	resp := textResponse(results)
	writeJSON(w, http.StatusOK, Response{Success: resp.Outcome != "failure", Data: resp})
}

func (s *Server) patchHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	results, err := s.svc.ComputePatch(r.Context(), req.Query, req.HostsRange, req.Options)
	if err != nil {
		writeError(w, resolveStatus(err), err.Error())
		return
	}
	resp := textResponse(results)
	writeJSON(w, http.StatusOK, Response{Success: resp.Outcome != "failure", Data: resp})
}

// deployHandler runs a deployment. There is no confirmation step on
// this path; callers wanting a dry run use the patch endpoint first.
func (s *Server) deployHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	start := time.Now()
	rep, err := s.svc.Deploy(r.Context(), req.Query, req.HostsRange, req.Options)
	if err != nil {
		writeError(w, resolveStatus(err), err.Error())
		return
	}
	resp := deployResponse(rep)
	s.stats.recordDeploy(rep, time.Since(start))
	s.log.Info("deploy run finished",
		zap.String("outcome", resp.Outcome),
		zap.Int("devices", len(resp.Results)),
		zap.Bool("aborted", resp.Aborted))
	writeJSON(w, http.StatusOK, Response{Success: resp.Outcome != "failure", Data: resp})
}

// deployEventsHandler returns recent deployment events, newest last.
// ?n= caps how many.
func (s *Server) deployEventsHandler(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid n")
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: s.svc.Events.Recent(n)})
}
