package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thatsimo/yet-another-chatbot/internal/logging"
)

// handleCreateChat handles POST /chats. It opens a new session and ingests
// the multipart "file" into it. Unsupported formats are rejected before the
// session is created.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	if err := s.ingester.Supports(filename); err != nil {
		s.metrics.ingestTotal.WithLabelValues(outcomeOf(err)).Inc()
		writeError(w, r, err)
		return
	}

	sess, err := s.sessions.CreateSession(r.Context(), s.newSessionID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info("session created", slog.String("session_id", sess.ID))

	s.ingestAndRespond(w, r, sess.ID, filename, data)
}

// handleAddFile handles POST /chats/{session_id}/files.
func (s *Server) handleAddFile(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	s.ingestAndRespond(w, r, sessionID, filename, data)
}

func (s *Server) ingestAndRespond(w http.ResponseWriter, r *http.Request, sessionID, filename string, data []byte) {
	start := time.Now()
	_, err := s.ingester.Ingest(r.Context(), sessionID, filename, data)
	s.metrics.ingestTotal.WithLabelValues(outcomeOf(err)).Inc()
	s.metrics.ingestDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}

	files, err := s.sessions.GetFiles(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, createChatResponse{SessionID: sessionID, Files: nonNil(files)})
}

// readUpload extracts the "file" part of a multipart body, enforcing the
// configured size cap. On failure it writes the response and returns false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit), http.StatusRequestEntityTooLarge)
			return "", nil, false
		}
		writeJSONError(w, "expected a multipart/form-data body", http.StatusBadRequest)
		return "", nil, false
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, `form field "file" is required`, http.StatusBadRequest)
		return "", nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeJSONError(w, "failed to read upload", http.StatusBadRequest)
		return "", nil, false
	}
	return hdr.Filename, data, true
}

// handleAsk handles PUT /chats/{session_id} with a form field "question".
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	question := formValue(r, "question")
	if strings.TrimSpace(question) == "" {
		s.metrics.queryTotal.WithLabelValues(outcomeBadRequest).Inc()
		writeJSONError(w, `form field "question" is required`, http.StatusBadRequest)
		return
	}

	start := time.Now()
	res, err := s.asker.Ask(r.Context(), sessionID, question)
	outcome := outcomeOf(err)
	if err == nil && res.NoDocuments {
		outcome = outcomeNoDocuments
	}
	s.metrics.queryTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, askResponse{Answer: res.Answer})
}

// formValue reads key from a urlencoded or multipart body.
func formValue(r *http.Request, key string) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return ""
		}
	}
	return r.PostFormValue(key)
}

// handleGetChat handles GET /chats/{session_id}.
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("session_id")

	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	files, err := s.sessions.GetFiles(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := s.sessions.GetMessages(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, chatResponse{
		SessionID: sessionID,
		Files:     nonNil(files),
		Messages:  nonNil(msgs),
	})
}

// handleListChats handles GET /chats.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.GetSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, nonNil(sessions))
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
