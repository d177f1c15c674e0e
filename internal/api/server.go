// Package api provides the read-only library server: it exposes local
// library roots (index files, search pages and samples) over HTTP so remote
// clients can browse them through their Index Store.
package api

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/auth"
	"github.com/leafcutter/leafcutter/internal/events"
	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/metrics"
	"github.com/leafcutter/leafcutter/internal/storage"
	"github.com/leafcutter/leafcutter/pkg/models"
	"github.com/leafcutter/leafcutter/pkg/protocol"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

// Package-level compiled regex for Range header parsing.
var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// Pool gzip writers to reduce allocations on index and search page responses.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Library is one library root served under /library/{Name}/.
type Library struct {
	Name    string
	Backend storage.Backend
}

// Server is the HTTP server.
type Server struct {
	libraries map[string]storage.Backend
	names     []string
	auth      *auth.Auth

	// SSE
	broadcaster *events.Broadcaster
}

// NewServer creates a new server. authHandler and broadcaster may be nil:
// without auth every endpoint is public, without a broadcaster the events
// endpoint is not registered.
func NewServer(libraries []Library, authHandler *auth.Auth, broadcaster *events.Broadcaster) (*Server, error) {
	s := &Server{
		libraries:   make(map[string]storage.Backend, len(libraries)),
		auth:        authHandler,
		broadcaster: broadcaster,
	}
	for _, lib := range libraries {
		if lib.Name == "" || strings.Contains(lib.Name, "/") {
			return nil, fmt.Errorf("invalid library name %q", lib.Name)
		}
		if _, dup := s.libraries[lib.Name]; dup {
			return nil, fmt.Errorf("duplicate library name %q", lib.Name)
		}
		s.libraries[lib.Name] = lib.Backend
		s.names = append(s.names, lib.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/v1/libraries", s.handleLibraries)
	protected.HandleFunc("GET /library/{name}/{path...}", s.handleLibraryFile)
	if s.broadcaster != nil {
		protected.HandleFunc("GET /api/v1/events", s.handleEvents)
	}

	var protectedHandler http.Handler = protected
	if s.auth != nil {
		protectedHandler = s.auth.Middleware(protected)
	}
	mux.Handle("/api/", protectedHandler)
	mux.Handle("/library/", protectedHandler)

	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.HealthResponse{
		Status:    "ok",
		Libraries: len(s.names),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	metrics.SetSSEConnectionsActive(int64(s.broadcaster.Count()))
	defer func() {
		s.broadcaster.Unsubscribe(ch)
		metrics.SetSSEConnectionsActive(int64(s.broadcaster.Count()))
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleLibraries(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	resp := protocol.LibrariesResponse{Libraries: []protocol.LibraryInfo{}}
	for _, name := range s.names {
		if claims != nil && !claims.Allows(name) {
			continue
		}
		_, err := s.libraries[name].StatObject(r.Context(), tree.IndexFile)
		resp.Libraries = append(resp.Libraries, protocol.LibraryInfo{
			Name:    name,
			URL:     fmt.Sprintf("%s://%s/library/%s", scheme, r.Host, url.PathEscape(name)),
			Indexed: err == nil,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleLibraryFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	key := path.Clean("/" + r.PathValue("path"))
	if key == "/" {
		s.sendError(w, http.StatusBadRequest, "file path required")
		return
	}

	backend, ok := s.libraries[name]
	if !ok {
		s.sendError(w, http.StatusNotFound, "unknown library: "+name)
		return
	}
	if claims := auth.GetClaims(r.Context()); claims != nil && !claims.Allows(name) {
		s.sendError(w, http.StatusForbidden, "access denied")
		return
	}
	if hidden(key) {
		s.sendError(w, http.StatusNotFound, "file not found: "+key)
		return
	}

	totalSize, err := backend.StatObject(r.Context(), key)
	if err != nil {
		if models.IsNotFound(err) {
			s.sendError(w, http.StatusNotFound, "file not found: "+key)
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Parse Range header
	offset, length, hasRange := parseRangeHeader(r.Header.Get("Range"), totalSize)
	if totalSize == 0 {
		offset, length, hasRange = 0, 0, false
	}

	reader, _, err := backend.GetObject(r.Context(), key, offset, length)
	if err != nil {
		if models.IsNotFound(err) {
			s.sendError(w, http.StatusNotFound, "file not found: "+key)
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer reader.Close()

	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Accept-Ranges", "bytes")

	var out io.Writer = w
	switch {
	case hasRange:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, totalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
	case path.Ext(key) == ".json" && acceptsGzip(r):
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		defer func() {
			gw.Close()
			gzipPool.Put(gw)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")
		w.WriteHeader(http.StatusOK)
		out = &gzipResponseWriter{ResponseWriter: w, gw: gw}
	default:
		w.Header().Set("Content-Length", strconv.FormatInt(totalSize, 10))
		w.WriteHeader(http.StatusOK)
	}

	n, err := io.Copy(out, reader)
	if err != nil && !errors.Is(err, r.Context().Err()) {
		logging.Warn("library transfer error",
			zap.String("request_id", logging.RequestID(r.Context())),
			zap.String("library", name),
			zap.String("key", key),
			zap.Error(err))
	}
	logging.Annotate(r.Context(),
		zap.String("library", name),
		zap.String("key", key),
		zap.Int64("bytes", n))
	metrics.RecordLibraryBytesServed(n)
}

// hidden reports whether any segment of key is a dotfile.
func hidden(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gw *gzip.Writer
}

func (g *gzipResponseWriter) Write(data []byte) (int, error) {
	return g.gw.Write(data)
}

func (g *gzipResponseWriter) Flush() {
	g.gw.Flush()
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func parseRangeHeader(rangeHeader string, totalSize int64) (offset, length int64, hasRange bool) {
	if rangeHeader == "" {
		return 0, totalSize, false
	}

	matches := rangeRegex.FindStringSubmatch(rangeHeader)
	if matches == nil {
		return 0, totalSize, false
	}

	startStr, endStr := matches[1], matches[2]

	if startStr == "" && endStr != "" {
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		offset = totalSize - suffix
		if offset < 0 {
			offset = 0
		}
		length = totalSize - offset
		return offset, length, true
	}

	if startStr != "" {
		offset, _ = strconv.ParseInt(startStr, 10, 64)
	}

	if endStr != "" {
		end, _ := strconv.ParseInt(endStr, 10, 64)
		length = end - offset + 1
	} else {
		length = totalSize - offset
	}

	if offset >= totalSize {
		offset = totalSize - 1
	}
	if offset+length > totalSize {
		length = totalSize - offset
	}

	return offset, length, true
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
