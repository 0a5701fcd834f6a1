package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/engine"
	"github.com/linguapulse/lesson/profile"
)

const maxBodyBytes = 64 << 10

type startRequest struct {
	LearnerID       string `json:"learner_id"`
	CallbackQueryID string `json:"callback_query_id,omitempty"`
}

type voiceRequest struct {
	LearnerID string `json:"learner_id"`
	MessageID string `json:"message_id"`
	FileID    string `json:"file_id"`
}

// outcomeResponse acknowledges every request the controller handled, whatever
// happened to the lesson.
type outcomeResponse struct {
	Outcome   engine.Outcome `json:"outcome"`
	SessionID string         `json:"session_id,omitempty"`
	Reason    profile.Reason `json:"reason,omitempty"`
	Reply     string         `json:"reply,omitempty"`
	Recovered bool           `json:"recovered,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	lessons, kind, ok := s.lessonsFor(w, r)
	if !ok {
		return
	}

	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.LearnerID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "learner_id is required"})
		return
	}

	ctx, cancel := s.lessonContext(r)
	defer cancel()

	if req.CallbackQueryID != "" && s.messenger != nil {
		if err := s.messenger.AnswerCallback(ctx, req.CallbackQueryID); err != nil {
			s.logger.WarnContext(ctx, "answer callback failed", "variant", kind, "learner", req.LearnerID, "error", err)
		}
	}

	res, err := lessons.Start(ctx, req.LearnerID)
	resp := outcomeResponse{
		Outcome:   res.Outcome,
		SessionID: res.SessionID,
		Reason:    res.Reason,
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "start failed", "variant", kind, "learner", req.LearnerID, "error", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	lessons, kind, ok := s.lessonsFor(w, r)
	if !ok {
		return
	}

	var req voiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"learner_id", req.LearnerID},
		{"message_id", req.MessageID},
		{"file_id", req.FileID},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing " + strings.Join(missing, ", ")})
		return
	}

	ctx, cancel := s.lessonContext(r)
	defer cancel()

	res, err := lessons.HandleVoiceTurn(ctx, engine.VoiceTurn{
		LearnerID: req.LearnerID,
		MessageID: req.MessageID,
		AudioRef:  req.FileID,
	})
	resp := outcomeResponse{
		Outcome:   res.Outcome,
		Reply:     res.Reply,
		Recovered: res.Recovered,
	}
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, lesson.ErrProfileUpdate) {
			// The lesson concluded; only the profile write was lost.
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "voice turn failed", "variant", kind, "learner", req.LearnerID, "message_id", req.MessageID, "error", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lessonsFor(w http.ResponseWriter, r *http.Request) (Lessons, lesson.Kind, bool) {
	kind, err := lesson.ParseKind(r.PathValue("variant"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return nil, "", false
	}
	lessons, ok := s.lessons[kind]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "variant " + string(kind) + " is not served"})
		return nil, "", false
	}
	return lessons, kind, true
}

// lessonContext detaches the lesson from the inbound connection so a routing
// layer that hangs up early does not abort a half-finished turn.
func (s *Server) lessonContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.handlerTimeout)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
