// Package server exposes quantization and the colour catalog over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"paintbynum/catalog"
	"paintbynum/codec"
	"paintbynum/config"
	"paintbynum/palette"
	"paintbynum/quantize"

	"github.com/google/uuid"
)

// maxMemory is how much of a multipart upload is kept in memory; the rest
// spills to temporary files.
const maxMemory = 8 << 20

// statusClientClosedRequest is nginx's non-standard code for a request the
// client abandoned.
const statusClientClosedRequest = 499

type Server struct {
	conf       *config.Config
	quantizer  *quantize.Quantizer
	catalog    *catalog.Store
	logger     *slog.Logger
	timeout    time.Duration
	background color.Color
	slots      chan struct{}
}

func New(conf *config.Config, q *quantize.Quantizer, store *catalog.Store, logger *slog.Logger) (*Server, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	timeout, _ := conf.TimeoutDuration()
	bg, _ := codec.ParseHexColor(conf.Background)
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		conf:       conf,
		quantizer:  q,
		catalog:    store,
		logger:     logger,
		timeout:    timeout,
		background: bg,
		slots:      make(chan struct{}, conf.MaxConcurrent),
	}, nil
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process-image", s.processImage)
	mux.HandleFunc("POST /palette", s.paletteLegend)
	mux.HandleFunc("GET /colors", s.listColors)
	mux.HandleFunc("POST /colors/add", s.addColor)
	mux.HandleFunc("GET /healthz", s.healthz)
	return mux
}

// Handler returns the routes wrapped with request logging and CORS.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withCORS(s.ServeMux()))
}

type loggerKey struct{}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)

		logger := s.logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), loggerKey{}, logger)))

		logger.Info("request", "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	anyOrigin := slices.Contains(s.conf.AllowedOrigins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		switch {
		case anyOrigin:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.conf.AllowedOrigins, origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Expose-Headers", "X-Palette, X-Request-Id")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "ok\n")
}

type job struct {
	res  *quantize.Result
	grid *quantize.PixelGrid
	k    int
}

// quantizeUpload decodes the uploaded file and clusters it. Errors are
// written to w and reported as nil.
func (s *Server) quantizeUpload(w http.ResponseWriter, r *http.Request) *job {
	logger := s.requestLogger(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.conf.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		s.fail(w, logger, fmt.Errorf("could not read upload: %w", err))
		return nil
	}
	defer r.MultipartForm.RemoveAll()

	k := s.conf.Colors
	if v := r.FormValue("colors"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid colors %q", v))
			return nil
		}
		if n > s.conf.MaxColors {
			badRequest(w, fmt.Sprintf("colors must be at most %d", s.conf.MaxColors))
			return nil
		}
		k = n
	}

	seed := s.conf.Seed
	if v := r.FormValue("seed"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid seed %q", v))
			return nil
		}
		seed = n
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			badRequest(w, "no file uploaded")
		} else {
			s.fail(w, logger, fmt.Errorf("could not read upload: %w", err))
		}
		return nil
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, logger, fmt.Errorf("could not read upload: %w", err))
		return nil
	}

	logger = logger.With("file", header.Filename, "size", len(data), "colors", k)

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	// the slot covers decoding too, which allocates as much as clustering
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.fail(w, logger, ctx.Err())
		return nil
	}

	dec, err := codec.Decode(data, s.background, s.conf.MaxPixels)
	if err != nil {
		s.fail(w, logger, err)
		return nil
	}

	start := time.Now()
	res, err := s.quantizer.Quantize(ctx, dec.Grid, k, seed)
	if err != nil {
		s.fail(w, logger, err)
		return nil
	}
	logger.Info("quantized", "format", dec.Format, "width", dec.Grid.Width, "height", dec.Grid.Height,
		"iterations", res.Iterations, "converged", res.Converged, "duration", time.Since(start))

	return &job{res: res, grid: dec.Grid, k: k}
}

func (s *Server) processImage(w http.ResponseWriter, r *http.Request) {
	j := s.quantizeUpload(w, r)
	if j == nil {
		return
	}

	var buf bytes.Buffer
	if err := codec.Encode(&buf, j.res.Image(), "png"); err != nil {
		s.fail(w, s.requestLogger(r), err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", codec.MIMEType("png"))
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("X-Palette", strings.Join(palette.NewLegend(j.res, nil).Hex(), ","))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.requestLogger(r).Error("could not write response", "error", err)
	}
}

type paletteResponse struct {
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Colors     int            `json:"colors"`
	Iterations int            `json:"iterations"`
	Converged  bool           `json:"converged"`
	Legend     palette.Legend `json:"legend"`
}

func (s *Server) paletteLegend(w http.ResponseWriter, r *http.Request) {
	j := s.quantizeUpload(w, r)
	if j == nil {
		return
	}

	var namer palette.Namer = catalog.Builtin()
	if s.catalog != nil {
		idx, err := s.catalog.Index(r.Context())
		if err != nil {
			s.fail(w, s.requestLogger(r), err)
			return
		}
		namer = idx
	}

	writeJSON(w, http.StatusOK, paletteResponse{
		Width:      j.grid.Width,
		Height:     j.grid.Height,
		Colors:     j.k,
		Iterations: j.res.Iterations,
		Converged:  j.res.Converged,
		Legend:     palette.NewLegend(j.res, namer),
	})
}

func (s *Server) listColors(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeJSONError(w, http.StatusNotFound, "color catalog disabled")
		return
	}

	colors, err := s.catalog.List(r.Context())
	if err != nil {
		s.fail(w, s.requestLogger(r), err)
		return
	}
	if colors == nil {
		colors = []catalog.Color{}
	}
	writeJSON(w, http.StatusOK, colors)
}

type addColorRequest struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

func (s *Server) addColor(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeJSONError(w, http.StatusNotFound, "color catalog disabled")
		return
	}

	var req addColorRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	c, err := s.catalog.Add(r.Context(), req.Name, req.Hex)
	if err != nil {
		s.fail(w, s.requestLogger(r), err)
		return
	}
	s.requestLogger(r).Info("color added", "name", c.Name, "hex", c.Hex)
	writeJSON(w, http.StatusCreated, c)
}

// fail maps err to a status code and writes it as a JSON error.
func (s *Server) fail(w http.ResponseWriter, logger *slog.Logger, err error) {
	var tooLarge *http.MaxBytesError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, codec.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, quantize.ErrInvalidInput), errors.Is(err, catalog.ErrInvalidColor):
		status = http.StatusBadRequest
	case errors.Is(err, codec.ErrDecode):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, catalog.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		err = errors.New("processing timed out")
	case errors.Is(err, context.Canceled):
		// the client is gone; the status only reaches the access log
		logger.Warn("request cancelled", "error", err)
		w.WriteHeader(statusClientClosedRequest)
		return
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		internalServerError(w, "failed to process request")
		return
	}
	logger.Warn("request rejected", "status", status, "error", err)
	writeJSONError(w, status, err.Error())
}
