package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nexus/internal/catalog"
	"nexus/internal/logging"
	"nexus/internal/pipeline"
	"nexus/internal/services"
)

// uploadMemoryLimit is how much of a multipart upload is buffered in memory
// before spilling to disk.
const uploadMemoryLimit = 32 << 20

func (s *Server) handleSubmitURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req SubmitURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	kind, _ := catalog.ParseMediaKind(req.Kind)
	receipt, err := s.manager.Submit(r.Context(), pipeline.Request{
		SourceURL:      req.SourceURL,
		Title:          req.Title,
		Kind:           kind,
		SubscriptionID: req.SubscriptionID,
	})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse(receipt))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	key, err := s.blobs.Put(r.Context(), file)
	if err != nil {
		s.logger.Error("failed to store uploaded payload", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store uploaded payload")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" && header != nil {
		title = header.Filename
	}
	kind, _ := catalog.ParseMediaKind(r.FormValue("kind"))

	receipt, err := s.manager.Submit(r.Context(), pipeline.Request{
		BlobKey: key,
		Title:   title,
		Kind:    kind,
	})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse(receipt))
}

func (s *Server) handleMediaList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []catalog.MediaStatus
	for _, value := range r.URL.Query()["status"] {
		status, ok := catalog.ParseMediaStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown media status "+strconv.Quote(value))
			return
		}
		statuses = append(statuses, status)
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := s.store.ListMedia(r.Context(), limit, statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]MediaView, 0, len(items))
	for _, item := range items {
		views = append(views, mediaView(item))
	}
	s.writeJSON(w, http.StatusOK, MediaListResponse{Items: views})
}

func (s *Server) handleMediaItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/media/")
	if retryID, ok := strings.CutSuffix(id, "/retry"); ok {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.retryMedia(w, r, retryID)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "media item not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := s.store.GetMedia(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "media item not found")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, mediaView(item))
	case http.MethodDelete:
		s.deleteMedia(w, r, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// deleteMedia removes a media item, its jobs, and its stored payload. Items
// with a job still in flight must be cancelled first.
func (s *Server) deleteMedia(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.store.GetMedia(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "media item not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := s.store.JobForMedia(r.Context(), id)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job != nil && !job.IsTerminal() {
		s.writeError(w, http.StatusConflict, "media item has a job in flight; cancel it first")
		return
	}

	deleted, err := s.store.DeleteMedia(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleted && item.BlobKey != "" {
		if err := s.blobs.Remove(r.Context(), item.BlobKey); err != nil {
			s.logger.Warn("failed to remove payload for deleted media",
				logging.String(logging.FieldMediaID, id),
				logging.Error(err))
		}
	}
	if deleted && job != nil {
		s.manager.Broadcaster().Forget(job.ID)
	}
	s.writeJSON(w, http.StatusOK, DeleteResponse{Deleted: deleted})
}

// retryMedia queues a fresh job for a media item whose previous run failed
// or was cancelled.
func (s *Server) retryMedia(w http.ResponseWriter, r *http.Request, id string) {
	receipt, err := s.manager.Resubmit(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "media item not found")
		return
	}
	if errors.Is(err, services.ErrInvalidRequest) {
		s.writeError(w, http.StatusConflict, services.Message(err))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse(receipt))
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/cancel"); ok {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.cancelJob(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	job, err := s.store.GetJob(r.Context(), rest)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, id string) {
	cancelled, err := s.manager.Cancel(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, CancelResponse{Cancelled: cancelled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.store.JobStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse(stats))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse(s.manager.Status(r.Context())))
}

// writeSubmitError maps submission failures to HTTP statuses: bad input is
// the caller's fault, everything else is ours.
func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrInvalidRequest) {
		s.writeError(w, http.StatusBadRequest, services.Message(err))
		return
	}
	s.logger.Error("submission failed", logging.Error(err))
	s.writeError(w, http.StatusInternalServerError, "failed to record submission")
}
