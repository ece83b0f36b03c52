// Package api exposes the detection pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/model"
	"SpectraIDS/internal/pipeline"
	"SpectraIDS/internal/query"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// defaultUploadLimit caps trace uploads when no limit is configured.
const defaultUploadLimit = 256 << 20

// Pipeline is the part of the controller the HTTP surface drives.
type Pipeline interface {
	Analyze(ctx context.Context, path string) ([]*model.DetectionEvent, error)
	Start(interval time.Duration) error
	Stop()
	Status() pipeline.Status
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	pipeline    Pipeline
	ws          http.Handler
	uploadLimit int64
	querier     query.Querier
	log         zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithQuerier serves stored detections under /detections.
func WithQuerier(q query.Querier) Option {
	return func(s *Server) { s.querier = q }
}

// NewServer creates the HTTP surface. ws serves the live stream and may be
// nil, in which case /ws is not routed.
func NewServer(p Pipeline, ws http.Handler, uploadLimit int64, opts ...Option) *Server {
	if uploadLimit <= 0 {
		uploadLimit = defaultUploadLimit
	}
	s := &Server{
		pipeline:    p,
		ws:          ws,
		uploadLimit: uploadLimit,
		log:         logging.Component("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/upload_pcap", s.uploadHandler).Methods("POST")
	r.HandleFunc("/simulate/start", s.startHandler).Methods("POST")
	r.HandleFunc("/simulate/stop", s.stopHandler).Methods("POST")
	r.HandleFunc("/simulate/status", s.statusHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}
	if s.querier != nil {
		r.HandleFunc("/detections/summary", s.summaryHandler).Methods("GET")
		r.HandleFunc("/detections/recent", s.recentHandler).Methods("GET")
	}
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadHandler analyses the trace in the multipart field "file".
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing upload field 'file': %v", err))
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "ids-upload-")
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create upload directory")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload.pcap"
	}
	path := filepath.Join(dir, name)
	if err := saveUpload(path, file); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.log.Error().Err(err).Msg("failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	events, err := s.pipeline.Analyze(r.Context(), path)
	if err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("trace analysis failed")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse pcap: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// startHandler starts the simulator, or changes its interval. The interval
// query parameter is in seconds and defaults to 1.
func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	interval := 1.0
	if raw := r.URL.Query().Get("interval"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid interval %q", raw))
			return
		}
		interval = v
	}

	if err := s.pipeline.Start(time.Duration(interval * float64(time.Second))); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sim": "started", "interval": interval})
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"sim": "stopped"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

// parseFilter reads since (a duration back from now, e.g. "1h"), origin and
// label from the query string.
func parseFilter(r *http.Request) (query.Filter, error) {
	var f query.Filter
	q := r.URL.Query()
	if raw := q.Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return f, fmt.Errorf("invalid since %q", raw)
		}
		f.Since = time.Now().Add(-d)
	}
	f.Origin = q.Get("origin")
	f.Label = q.Get("label")
	return f, nil
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.querier.Summary(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("summary query failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query detections: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": summary})
}

func (s *Server) recentHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
	}
	detections, err := s.querier.Recent(r.Context(), f, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("recent query failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query detections: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": detections})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
