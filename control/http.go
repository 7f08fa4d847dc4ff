// This file exposes Check/AllocateQuota/Report/Stats/Flush/Clear over plain
// net/http, for deployments that run the facade as a standalone sidecar
// process fronted by an API gateway instead of embedding Client directly
// in-process. The //encore:api endpoints in service.go cover the embedded
// deployment; NewSidecarHandler covers this one, with every request logged
// by pkg/middleware's structured request logger.
package control

import (
	"encoding/json"
	"net/http"

	"encore.app/pkg/middleware"
	"encore.app/pkg/transport"
)

// NewSidecarHandler builds the HTTP surface for a standalone sidecar
// deployment of c, wrapped in structured request logging with a
// correlation ID on every route.
func NewSidecarHandler(c *Client) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/control/check", handleCheck(c))
	mux.HandleFunc("/control/quota", handleAllocateQuota(c))
	mux.HandleFunc("/control/report", handleReport(c))
	mux.HandleFunc("/control/stats", handleStats(c))
	mux.HandleFunc("/control/flush", handleFlush(c))
	mux.HandleFunc("/control/clear", handleClear(c))
	return middleware.RequestLogger(mux)
}

func handleCheck(c *Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transport.CheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := c.Check(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, resp)
	}
}

func handleAllocateQuota(c *Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transport.AllocateQuotaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := c.AllocateQuota(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, resp)
	}
}

func handleReport(c *Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transport.ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.Report(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, ReportAck{Accepted: len(req.Operations)})
	}
}

func handleStats(c *Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, StatsResponse{Summary: c.Stats().String()})
	}
}

func handleFlush(c *Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.Flush()
		writeJSON(w, FlushResponse{Flushed: true})
	}
}

func handleClear(c *Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.Clear()
		writeJSON(w, ClearResponse{Cleared: true})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
