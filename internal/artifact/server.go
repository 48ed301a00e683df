package artifact

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"shipit/internal/ledger"
)

// Server exposes a DirStore over HTTP so pipelines on other machines
// can publish to and download from the same slots.
type Server struct {
	store      *DirStore
	logger     *zap.Logger
	ledgerPath string
}

func NewServer(store *DirStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, logger: logger}
}

// WithLedger enables GET /ledger/verify for the ledger file at path.
func (s *Server) WithLedger(path string) *Server {
	s.ledgerPath = path
	return s
}

// Routes:
//
//	GET /artifacts                 list manifests
//	PUT /artifacts/{name}          replace a slot
//	GET /artifacts/{name}          download the archive
//	GET /artifacts/{name}/manifest read the manifest
//	GET /ledger/verify             check the run ledger, when configured
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Route("/artifacts", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Put("/{name}", s.handlePut)
		r.Get("/{name}", s.handleDownload)
		r.Get("/{name}/manifest", s.handleManifest)
	})
	if s.ledgerPath != "" {
		r.Get("/ledger/verify", s.handleVerifyLedger)
	}
	return r
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	list, err := s.store.List()
	if err != nil {
		s.fail(w, err)
		return
	}
	if list == nil {
		list = []Manifest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := ValidName(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	signed, _ := strconv.ParseBool(r.Header.Get(HeaderSigned))
	m := Manifest{
		Name:    name,
		Digest:  r.Header.Get(HeaderDigest),
		Version: r.Header.Get(HeaderVersion),
		RunID:   r.Header.Get(HeaderRunID),
		Signed:  signed,
	}

	stored, err := s.store.Put(r.Context(), m, r.Body)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("artifact stored",
		zap.String("name", stored.Name),
		zap.Int64("size", stored.Size),
		zap.String("digest", stored.Digest),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	f, m, err := s.store.Open(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(m.Size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+m.File+`"`)
	w.Header().Set(HeaderDigest, m.Digest)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("artifact download interrupted", zap.String("name", m.Name), zap.Error(err))
	}
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Manifest(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleVerifyLedger re-reads the ledger so records appended by runs
// since startup are covered.
func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	l, err := ledger.OpenLedger(s.ledgerPath)
	if err != nil {
		s.logger.Error("cannot open ledger", zap.String("path", s.ledgerPath), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]any{"valid": true, "records": len(l.Records())}
	if err := l.VerifyChain(); err != nil {
		resp["valid"] = false
		resp["error"] = err.Error()
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, ErrDigestMismatch):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("artifact request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
