package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"litsearch/internal/config"
	"litsearch/internal/ingest"
	"litsearch/internal/models"
	"litsearch/internal/providers"
	"litsearch/internal/search"
	"litsearch/internal/storage"
	"litsearch/internal/util"
	"litsearch/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

const drainWorkflowID = "queue-drain"

type Server struct {
	cfg       config.Config
	db        *storage.DB
	docRepo   *storage.DocumentRepo
	chunkRepo *storage.ChunkRepo
	queueRepo *storage.QueueRepo
	modelRepo *storage.ModelRepo
	hybrid    *search.Hybrid
	temporal  tclient.Client
	logger    *slog.Logger
}

func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	embedder := providers.NewEmbedder(pm.First(), providers.RetryPolicy{
		MaxAttempts: cfg.EmbedMaxRetries,
		BaseDelay:   time.Duration(cfg.EmbedBaseDelay) * time.Millisecond,
	}, logger)
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		db:        db,
		docRepo:   storage.NewDocumentRepo(db),
		chunkRepo: storage.NewChunkRepo(db),
		queueRepo: storage.NewQueueRepo(db),
		modelRepo: storage.NewModelRepo(db, logger),
		hybrid:    search.NewHybrid(search.NewStrategies(db.Pool), embedder, logger),
		temporal:  tc,
		logger:    logger.With("component", "api"),
	}, nil
}

func (s *Server) Close() {
	if s.temporal != nil {
		s.temporal.Close()
	}
	s.db.Close()
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentsScoped)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/queue/", s.handleQueueScoped)
	mux.HandleFunc("/rechunk", s.handleRechunk)
	mux.HandleFunc("/stats", s.handleStats)
	return withCORS(mux)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	ids, err := s.docRepo.ListIDs(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	chunkCount, err := s.chunkRepo.CountChunks(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	depth, err := s.queueRepo.Depth(r.Context(), s.cfg.QueueMaxAttempts)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	stats := map[string]any{
		"documents":   len(ids),
		"chunks":      chunkCount,
		"queue_depth": depth,
		"embed_model": s.cfg.EmbedModel,
	}
	if modelID, err := s.modelRepo.GetOrCreate(r.Context(), s.cfg.EmbedModel); err == nil {
		if dim, err := s.modelRepo.Dimension(r.Context(), modelID); err == nil && dim > 0 {
			stats["embed_dimension"] = dim
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Question   string             `json:"question"`
		Strategies []string           `json:"strategies"`
		TopK       int                `json:"top_k"`
		Fusion     string             `json:"fusion"`
		Weights    map[string]float64 `json:"weights"`
		RRFK       float64            `json:"rrf_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.SearchTopK
	}
	fusionMethod := req.Fusion
	if fusionMethod == "" {
		fusionMethod = s.cfg.FusionMethod
	}
	rrfK := req.RRFK
	if rrfK == 0 {
		rrfK = s.cfg.RRFK
	}

	resp, err := s.hybrid.Search(r.Context(), req.Question, search.Options{
		Strategies:      req.Strategies,
		TopK:            req.TopK,
		VectorThreshold: s.cfg.VectorThreshold,
		Fusion: models.FusionConfig{
			Method:  fusionMethod,
			Weights: req.Weights,
			RRFK:    rrfK,
		},
	})
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ids, err := s.docRepo.ListIDs(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document_ids": ids})
	case http.MethodPost:
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "multipart/form-data") {
			s.handleUpload(w, r)
			return
		}
		var req struct {
			Title    string `json:"title"`
			Text     string `json:"text"`
			Deferred bool   `json:"deferred"`
			Priority int    `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("text is required"))
			return
		}
		s.logger.Info("text submitted", "title", req.Title,
			"bytes", len(req.Text), "sha256", util.SHA256Hex([]byte(req.Text)))
		s.startIngest(w, r, workflows.DocumentIngestInput{
			Title:    req.Title,
			Text:     req.Text,
			Deferred: req.Deferred,
			Priority: req.Priority,
		})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(128 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	fh, ok := firstSingleFile(r.MultipartForm.File)
	if !ok {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("only pdf files are accepted"))
		return
	}
	if err := util.EnsureDir(s.cfg.DataInRoot); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	path, contentHash, err := saveUploadedFile(s.cfg.DataInRoot, fh)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("pdf uploaded", "path", path, "sha256", contentHash)
	s.startIngest(w, r, workflows.DocumentIngestInput{
		PDFPath: path,
		Title:   strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename)),
	})
}

func (s *Server) startIngest(w http.ResponseWriter, r *http.Request, input workflows.DocumentIngestInput) {
	wfID := "ingest-" + uuid.NewString()
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.DocumentIngestWorkflow, input)
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleDocumentsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	docID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid document id"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		doc, err := s.docRepo.Get(r.Context(), docID)
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}
	if len(parts) == 2 && parts[1] == "chunks" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		modelID, err := s.modelRepo.GetOrCreate(r.Context(), s.cfg.EmbedModel)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		chunks, err := s.chunkRepo.ListChunks(r.Context(), storage.ChunkKey{
			DocumentID:   docID,
			ModelID:      modelID,
			ChunkSize:    s.cfg.ChunkSize,
			ChunkOverlap: s.cfg.ChunkOverlap,
		})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document_id": docID, "chunks": chunks})
		return
	}
	if len(parts) == 2 && parts[1] == "enqueue" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var req struct {
			Priority int `json:"priority"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if err := s.queueRepo.Enqueue(r.Context(), docID, req.Priority); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"document_id": docID, "queued": true})
		return
	}
	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	depth, err := s.queueRepo.Depth(r.Context(), s.cfg.QueueMaxAttempts)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	stuck, err := s.queueRepo.ListStuck(r.Context(), s.cfg.QueueMaxAttempts)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"depth": depth, "stuck": stuck})
}

func (s *Server) handleQueueScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/queue/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	switch parts[0] {
	case "drain":
		if len(parts) == 1 {
			if r.Method != http.MethodPost {
				writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
				return
			}
			var req workflows.QueueDrainInput
			if r.Body != nil {
				_ = json.NewDecoder(r.Body).Decode(&req)
			}
			we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
				ID:                                       drainWorkflowID,
				TaskQueue:                                s.cfg.TemporalTaskQueue,
				WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
				WorkflowExecutionErrorWhenAlreadyStarted: true,
			}, workflows.QueueDrainWorkflow, req)
			if err != nil {
				writeErr(w, http.StatusConflict, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
			return
		}
		if len(parts) == 2 && parts[1] == "progress" {
			if r.Method != http.MethodGet {
				writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
				return
			}
			resp, err := s.temporal.QueryWorkflow(r.Context(), drainWorkflowID, "", workflows.QueryGetDrainProgress)
			if err != nil {
				writeErr(w, http.StatusNotFound, err)
				return
			}
			var prog workflows.QueueDrainProgress
			if err := resp.Get(&prog); err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, prog)
			return
		}
	}
	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleRechunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Mode         string `json:"mode"`
		Model        string `json:"model"`
		ChunkSize    int    `json:"chunk_size"`
		ChunkOverlap int    `json:"chunk_overlap"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	mode := ingest.Mode(strings.TrimSpace(req.Mode))
	if mode != ingest.ModeRechunkExisting && mode != ingest.ModeChunkMissing {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("mode must be %q or %q", ingest.ModeRechunkExisting, ingest.ModeChunkMissing))
		return
	}

	wfID := "rechunk-" + uuid.NewString()
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.RechunkAllWorkflow, workflows.RechunkAllWorkflowInput{
		Mode: mode,
		Params: ingest.Params{
			Model:        req.Model,
			ChunkSize:    req.ChunkSize,
			ChunkOverlap: req.ChunkOverlap,
		},
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func saveUploadedFile(dstDir string, fh *multipart.FileHeader) (path, contentHash string, err error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*.pdf")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()

	contentHash, err = util.SHA256HexFromReader(io.TeeReader(src, tmp))
	if err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", err
	}
	finalPath := util.SafeJoin(dstDir, fh.Filename)
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", "", fmt.Errorf("atomic move upload: %w", err)
	}
	return finalPath, contentHash, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "LS-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "LS-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "LS-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "LS-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "LS-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "LS-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "LS-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "LS-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "question is required"):
			msg = "A search question is required."
		case strings.Contains(low, "text is required"):
			msg = "Document text is required."
		case strings.Contains(low, "no files provided"):
			msg = "No PDF files were provided."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(low, "mode must be"):
			msg = err.Error()
		case strings.Contains(low, "fusion weight"), strings.Contains(low, "rrf k must be"):
			msg = err.Error()
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
