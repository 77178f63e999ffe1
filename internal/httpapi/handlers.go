package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// maxJSONBody caps JSON request bodies. Violation evidence may carry an
// inline image, so this is far larger than the other payloads need.
const maxJSONBody = 4 << 20

const idempotencyHeader = "Idempotency-Key"

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ── Examinee ─────────────────────────────────────────────────────────────────

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	exam, err := s.examService.Start(r.Context(), caller(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.StartExamResponse{Exam: exam})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	exam, err := s.examService.Get(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req types.AnswerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	id := r.PathValue("id")
	if err := s.examService.SubmitAnswer(r.Context(), caller(r), id, req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StatusResponse{OK: true, ExamID: id, Status: types.StatusActive})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	resp, err := s.examService.Complete(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleViolation accepts a JSON ViolationRequest, or a protobuf Struct
// with the same field names when the client sends application/x-protobuf.
// The response uses the request's encoding.
func (s *Server) handleViolation(w http.ResponseWriter, r *http.Request) {
	useProto := isProtobuf(r)

	var req types.ViolationRequest
	if useProto {
		msg, err := readStruct(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body")
			return
		}
		req = violationRequestFromStruct(msg)
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.examService.Record(r.Context(), caller(r), r.PathValue("id"), r.Header.Get(idempotencyHeader), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if useProto {
		msg, err := violationResponseToStruct(resp)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLegacyProctor keeps the browser client's original endpoint working.
// Server-side frame classification is not offered: a body without a
// violationType is rejected.
func (s *Server) handleLegacyProctor(w http.ResponseWriter, r *http.Request) {
	var req types.LegacyProctorRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	kind := legacyKind(req.ViolationType)
	resp, err := s.examService.Record(r.Context(), caller(r), r.PathValue("id"), r.Header.Get(idempotencyHeader), types.ViolationRequest{
		Kind:     kind,
		Evidence: req.Screenshot,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// legacyKind maps the browser client's face-check tags onto face-absent.
func legacyKind(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "face", "mock-face", "no-face":
		return types.KindFaceAbsent
	}
	return v
}

// ── Monitoring ───────────────────────────────────────────────────────────────

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	exams, err := s.examService.ListActive(r.Context(), caller(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ExamListResponse{Exams: exams})
}

func (s *Server) handleListFlagged(w http.ResponseWriter, r *http.Request) {
	exams, err := s.examService.ListFlagged(r.Context(), caller(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ExamListResponse{Exams: exams})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	resp, err := s.examService.Terminate(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearFlag(w http.ResponseWriter, r *http.Request) {
	resp, err := s.examService.ClearFlag(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
