package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"reelvault/internal/api"
	"reelvault/internal/history"
	"reelvault/internal/ingest"
	"reelvault/internal/lifecycle"
	"reelvault/internal/metadata"
	"reelvault/internal/services"
	"reelvault/internal/textutil"
)

const (
	fileNameHeader   = "X-File-Name"
	setNameHeader    = "X-Set-Name"
	maxJSONBodyBytes = 1 << 20
	maxHistoryLimit  = 1000
)

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	req, err := s.uploadRequest(r)
	if err != nil {
		s.writeServiceError(w, r, err, "upload failed")
		return
	}
	result, err := s.daemon.ingest.Upload(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, "upload failed")
		return
	}
	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	s.writeJSON(w, status, api.UploadResponse{
		ID:           result.Record.ID,
		URL:          api.OriginalURL(result.Record.ID),
		DerivedReady: result.Record.DerivedReady,
		Transcoding:  result.Transcoding,
		Existing:     result.Existing,
	})
}

// uploadRequest accepts either a raw body (name from ?name= or X-File-Name)
// or multipart/form-data with a "file" part. Multipart fields that come
// after the file part are not seen.
func (s *apiServer) uploadRequest(r *http.Request) (ingest.Request, error) {
	query := r.URL.Query()
	req := ingest.Request{
		DisplayName: firstNonEmpty(query.Get("name"), r.Header.Get(fileNameHeader)),
		SetName:     firstNonEmpty(query.Get("set"), r.Header.Get(setNameHeader)),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		req.ContentType = r.Header.Get("Content-Type")
		req.Body = r.Body
		if r.ContentLength > 0 {
			req.DeclaredSize = r.ContentLength
		}
		return req, nil
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return req, services.Wrap(services.ErrValidation, "api", "upload", "malformed multipart body", err)
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return req, services.Wrap(services.ErrValidation, "api", "upload", "multipart body has no file part", nil)
		}
		if err != nil {
			return req, services.Wrap(services.ErrValidation, "api", "upload", "malformed multipart body", err)
		}
		switch part.FormName() {
		case "file":
			if req.DisplayName == "" {
				req.DisplayName = part.FileName()
			}
			req.ContentType = part.Header.Get("Content-Type")
			req.Body = part
			return req, nil
		case "name", "set":
			value, readErr := io.ReadAll(io.LimitReader(part, 4096))
			if readErr != nil {
				return req, services.Wrap(services.ErrValidation, "api", "upload", "read form field", readErr)
			}
			if part.FormName() == "name" && req.DisplayName == "" {
				req.DisplayName = string(value)
			}
			if part.FormName() == "set" && req.SetName == "" {
				req.SetName = string(value)
			}
		}
	}
}

func (s *apiServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	setName := textutil.SanitizeSetName(r.URL.Query().Get("set"))
	records := s.daemon.store.List()
	views := make([]api.FileView, 0, len(records))
	for _, rec := range records {
		if setName != "" && rec.SetName != setName {
			continue
		}
		views = append(views, s.view(rec))
	}
	s.writeJSON(w, http.StatusOK, api.FileListResponse{Files: views})
}

func (s *apiServer) handleGetFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(rec))
}

func (s *apiServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	job, hasJob := s.daemon.scheduler.Status(rec.ID)
	s.writeJSON(w, http.StatusOK, api.StatusFor(rec, job, hasJob))
}

func (s *apiServer) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.lifecycle.Delete(r.Context(), id, r.URL.Query().Get("scope")); err != nil {
		s.writeServiceError(w, r, err, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.lifecycle.TriggerTranscode(chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err, "transcode trigger failed")
		return
	}
	status := http.StatusAccepted
	if result.Status == lifecycle.TriggerAlreadyReady {
		status = http.StatusOK
	}
	s.writeJSON(w, status, api.TriggerResponse{Status: result.Status, Queued: result.Queued})
}

func (s *apiServer) handleAssociate(w http.ResponseWriter, r *http.Request) {
	var req api.AssociateRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	updated, err := s.daemon.lifecycle.Associate(req.IDs, req.SetName)
	if err != nil {
		s.writeServiceError(w, r, err, "associate failed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssociateResponse{Updated: updated})
}

func (s *apiServer) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req api.PurgeRequest
	if !s.decodeJSON(w, r, &req, true) {
		return
	}
	removed, err := s.daemon.lifecycle.Purge(r.Context(), req.SetName)
	if err != nil {
		s.writeServiceError(w, r, err, "purge failed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.PurgeResponse{Removed: removed})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = parsed
	}

	var (
		attempts []history.Attempt
		err      error
	)
	if fileID := strings.TrimSpace(query.Get("file")); fileID != "" {
		attempts, err = s.daemon.history.ForFile(r.Context(), fileID)
		if limit > 0 && len(attempts) > limit {
			attempts = attempts[len(attempts)-limit:]
		}
	} else {
		attempts, err = s.daemon.history.Recent(r.Context(), limit)
	}
	if err != nil {
		s.writeServiceError(w, r, services.Wrap(services.ErrTransient, "api", "history", "query journal", err), "history unavailable")
		return
	}
	entries := make([]api.HistoryEntry, 0, len(attempts))
	for _, a := range attempts {
		entries = append(entries, api.FromAttempt(a))
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{Entries: entries})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.daemon.scheduler.Snapshot()
	jobs := make([]api.QueueEntry, 0, len(snapshot))
	for _, job := range snapshot {
		var name string
		if rec, err := s.daemon.store.Get(job.FileID); err == nil {
			name = rec.DisplayName
		}
		jobs = append(jobs, api.FromJob(job, name))
	}
	s.writeJSON(w, http.StatusOK, api.QueueResponse{Jobs: jobs})
}

func (s *apiServer) view(rec metadata.FileRecord) api.FileView {
	job, hasJob := s.daemon.scheduler.Status(rec.ID)
	return api.FromRecord(rec, job, hasJob)
}

// record loads the {id} record or writes 404.
func (s *apiServer) record(w http.ResponseWriter, r *http.Request) (metadata.FileRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := s.daemon.store.Get(id)
	if errors.Is(err, metadata.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return rec, false
	}
	if err != nil {
		s.writeServiceError(w, r, err, "lookup failed")
		return rec, false
	}
	return rec, true
}

// decodeJSON reads a bounded JSON body into dst. An empty body is accepted
// only when allowEmpty is set.
func (s *apiServer) decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
