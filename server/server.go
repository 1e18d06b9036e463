// Package server exposes an acquisition controller over HTTP.
//
//	GET    /status       controller state and the last result
//	POST   /acquisition  start a session (JSON request)
//	DELETE /acquisition  stop the running session
//	GET    /capture      summary of the last in-memory capture
//	GET    /metrics      Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sergev/snap/acquisition"
	"github.com/sergev/snap/metrics"
	"github.com/sergev/snap/protocol"
	"github.com/sergev/snap/sink"
	"github.com/sergev/snap/trigger"
)

const shutdownTimeout = 5 * time.Second

// Server routes HTTP requests to one controller
type Server struct {
	ctrl     *acquisition.Controller
	capture  *sink.Memory
	metrics  *metrics.Metrics
	defaults acquisition.Request
	log      *logrus.Logger
	router   *mux.Router
}

// New builds the router. capture and m may be nil, which disables the
// matching endpoint. defaults fills fields a start request leaves out.
func New(ctrl *acquisition.Controller, capture *sink.Memory, m *metrics.Metrics, defaults acquisition.Request, log *logrus.Logger) *Server {
	s := &Server{
		ctrl:     ctrl,
		capture:  capture,
		metrics:  m,
		defaults: defaults,
		log:      log,
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc("/status", s.getStatus).Methods("GET")
	s.router.HandleFunc("/acquisition", s.startAcquisition).Methods("POST")
	s.router.HandleFunc("/acquisition", s.stopAcquisition).Methods("DELETE")
	s.router.HandleFunc("/capture", s.getCapture).Methods("GET")
	if m != nil {
		s.router.Handle("/metrics", m.Handler()).Methods("GET")
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then stops any running
// session and shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	h := &http.Server{Addr: addr, Handler: s}

	errc := make(chan error, 1)
	go func() { errc <- h.ListenAndServe() }()
	s.log.Infof("Listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	if err := s.ctrl.Stop(); err != nil {
		s.log.Warnf("Failed to stop acquisition: %v", err)
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Shutdown(sctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// Result is the JSON form of acquisition.Result
type Result struct {
	acquisition.Result
	Error string `json:"error,omitempty"`
}

func newResult(res acquisition.Result) *Result {
	r := &Result{Result: res}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	return r
}

// Status is returned by GET /status
type Status struct {
	Running   bool                 `json:"running"`
	Samples   uint64               `json:"samples"`
	Triggered bool                 `json:"triggered"`
	Channels  acquisition.Channels `json:"channels"`
	Last      *Result              `json:"last,omitempty"`
}

// StartRequest is the body of POST /acquisition. Missing fields keep the
// server defaults.
type StartRequest struct {
	Config   *StartConfig          `json:"config,omitempty"`
	Channels *acquisition.Channels `json:"channels,omitempty"`
	Trigger  string                `json:"trigger,omitempty"`
}

// StartConfig overrides part of the default acquisition settings. Zero rate
// and limit, like an absent mode or capture ratio, keep the default.
type StartConfig struct {
	Mode         *acquisition.Mode `json:"mode,omitempty"`
	SampleRate   uint64            `json:"samplerate,omitempty"`
	SampleLimit  uint64            `json:"limit,omitempty"`
	CaptureRatio *uint8            `json:"capture_ratio,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) status() *Status {
	st := &Status{
		Running:   s.ctrl.Alive(),
		Samples:   s.ctrl.Samples(),
		Triggered: s.ctrl.Triggered(),
		Channels:  s.ctrl.Channels(),
	}
	if res, ok := s.ctrl.LastResult(); ok {
		st.Last = newResult(res)
	}
	return st
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// request merges a start request with the defaults
func (s *Server) request(body *StartRequest) (acquisition.Request, error) {
	req := s.defaults
	if body.Channels != nil {
		req.Channels = *body.Channels
	}
	if c := body.Config; c != nil {
		if c.SampleRate != 0 {
			req.Config.SampleRate = c.SampleRate
		}
		if c.SampleLimit != 0 {
			req.Config.SampleLimit = c.SampleLimit
		}
		if c.CaptureRatio != nil {
			req.Config.CaptureRatio = *c.CaptureRatio
		}
		if c.Mode != nil {
			if err := selectMode(&req, *c.Mode, body.Channels != nil); err != nil {
				return req, err
			}
		}
	}
	if body.Trigger != "" {
		spec, err := trigger.ParseSpec(body.Trigger)
		if err != nil {
			return req, err
		}
		req.Trigger = spec
	}
	return req, nil
}

// selectMode enables the analog inputs for the oscilloscope and disables them
// for the logic analyzer. Explicit channels must already agree with the mode.
func selectMode(req *acquisition.Request, mode acquisition.Mode, explicit bool) error {
	if explicit {
		resolved, _, err := req.Channels.Resolve()
		if err != nil {
			return err
		}
		if resolved != mode {
			return fmt.Errorf("mode %v does not match the requested channels, which select %v", mode, resolved)
		}
		return nil
	}
	if mode == acquisition.Oscilloscope && len(req.Channels.Analog) == 0 {
		return fmt.Errorf("no analog channel for mode %v", mode)
	}
	analog := make([]acquisition.Channel, len(req.Channels.Analog))
	for i, ch := range req.Channels.Analog {
		ch.Enabled = mode == acquisition.Oscilloscope
		analog[i] = ch
	}
	req.Channels.Analog = analog
	req.Config.Mode = mode
	return nil
}

func (s *Server) startAcquisition(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
	}
	req, err := s.request(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.ctrl.Start(req); err != nil {
		s.log.Warnf("Failed to start acquisition: %v", err)
		writeError(w, startErrorCode(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.status())
}

func startErrorCode(err error) int {
	var transportErr *protocol.TransportError
	var protocolErr *protocol.ProtocolError
	var deviceErr *protocol.DeviceError
	switch {
	case errors.Is(err, acquisition.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.As(err, &transportErr), errors.As(err, &protocolErr), errors.As(err, &deviceErr):
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

func (s *Server) stopAcquisition(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) getCapture(w http.ResponseWriter, r *http.Request) {
	if s.capture == nil {
		writeError(w, http.StatusNotFound, errors.New("capture is not kept in memory"))
		return
	}
	sum, ok := s.capture.Summary()
	if !ok {
		writeError(w, http.StatusNotFound, acquisition.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
