package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowerhub-tryon/internal/catalog"
	"flowerhub-tryon/internal/imagedata"
	"flowerhub-tryon/internal/session"
)

//go:embed static/*
var staticFS embed.FS

const (
	cookieName        = "flowerhub_session"
	downloadPrefix    = "flowerhub-custom-"
	defaultMaxUpload  = 10 << 20
	defaultReqTimeout = 240 * time.Second
)

type Options struct {
	Sessions       *session.Store
	Runner         session.Runner
	Logger         *slog.Logger
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Now            func() time.Time
}

type Server struct {
	sessions       *session.Store
	runner         session.Runner
	logger         *slog.Logger
	maxUploadBytes int64
	requestTimeout time.Duration
	now            func() time.Time
}

type apiError struct {
	Error string `json:"error"`
}

type stateView struct {
	UserPhoto    string        `json:"userPhoto,omitempty"`
	SelectedItem *catalog.Item `json:"selectedItem,omitempty"`
	ResultImage  string        `json:"resultImage,omitempty"`
	IsProcessing bool          `json:"isProcessing"`
	Error        string        `json:"error,omitempty"`
	CanGenerate  bool          `json:"canGenerate"`
}

func toView(st session.State) stateView {
	return stateView{
		UserPhoto:    st.UserPhoto,
		SelectedItem: st.SelectedItem,
		ResultImage:  st.ResultImage,
		IsProcessing: st.IsProcessing,
		Error:        st.Error,
		CanGenerate:  st.CanGenerate(),
	}
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(session.Options{})
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultReqTimeout
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Server{
		sessions:       sessions,
		runner:         opts.Runner,
		logger:         logger,
		maxUploadBytes: maxUpload,
		requestTimeout: timeout,
		now:            now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/catalog", s.handleCatalog)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/select", s.handleSelect)
	mux.HandleFunc("/api/photo", s.handlePhoto)
	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/result", s.handleResult)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("/", http.FileServer(http.FS(staticSub)))

	return withLogging(mux, s.logger)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, catalog.Items())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}
	ctrl := s.controller(w, r)
	writeJSON(w, http.StatusOK, toView(ctrl.Snapshot()))
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json"})
		return
	}

	item, ok := catalog.Find(body.ID)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown garland"})
		return
	}

	ctrl := s.controller(w, r)
	writeJSON(w, http.StatusOK, toView(ctrl.SelectItem(item)))
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing photo"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "failed to read photo"})
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: "photo is too large"})
		return
	}

	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = http.DetectContentType(data)
	}
	if !imagedata.IsImageType(mimeType) {
		writeJSON(w, http.StatusUnsupportedMediaType, apiError{Error: "only image uploads are accepted"})
		return
	}

	payload, err := imagedata.FromBytes(data, mimeType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	ctrl := s.controller(w, r)
	writeJSON(w, http.StatusOK, toView(ctrl.SetUserPhoto(payload.DataURL())))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}
	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "generation is not configured"})
		return
	}

	ctrl := s.controller(w, r)

	// An in-flight call runs to completion even if the browser goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.requestTimeout)
	defer cancel()

	st, err := ctrl.Generate(ctx, s.runner)
	switch {
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrSuperseded):
		writeJSON(w, http.StatusConflict, toView(st))
	case err != nil:
		s.logger.Error("try-on failed", "err", err)
		writeJSON(w, http.StatusBadGateway, toView(st))
	default:
		writeJSON(w, http.StatusOK, toView(st))
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}
	ctrl := s.controller(w, r)
	writeJSON(w, http.StatusOK, toView(ctrl.Reset()))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}

	st := s.controller(w, r).Snapshot()
	if st.ResultImage == "" {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no result yet"})
		return
	}

	payload, err := imagedata.Parse(st.ResultImage)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "stored result is unreadable"})
		return
	}
	data, err := payload.Bytes()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "stored result is unreadable"})
		return
	}

	name := DownloadName(s.now(), payload.MimeType)
	w.Header().Set("Content-Type", payload.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DownloadName is the file name offered for a result image.
func DownloadName(at time.Time, mimeType string) string {
	ext := ".png"
	switch mimeType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	case "image/gif":
		ext = ".gif"
	}
	return fmt.Sprintf("%s%d%s", downloadPrefix, at.UnixMilli(), ext)
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) *session.Controller {
	return s.sessions.Get(s.sessionID(w, r))
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(cookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "dur_ms", time.Since(start).Milliseconds())
	})
}
