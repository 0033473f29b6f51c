package server

import (
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/inferloop/mwem/internal/service"
	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

// AnswerResponse is returned by GET /releases/{id}/answer
type AnswerResponse struct {
	ReleaseID string       `json:"release_id"`
	Query     models.Query `json:"query"`
	Answer    float64      `json:"answer"`
}

// SampleResponse is returned by GET /releases/{id}/sample
type SampleResponse struct {
	ReleaseID string `json:"release_id"`
	Count     int    `json:"count"`
	Records   []int  `json:"records"`
}

// ListResponse is returned by GET /releases
type ListResponse struct {
	Releases []models.ReleaseSummary `json:"releases"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Health(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.build)
}

func (s *Server) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	var req service.ReleaseRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, r, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat, "Invalid release request body"))
		return
	}

	release, err := s.service.CreateRelease(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, release)
}

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	limit, err := intParam(values.Get("limit"), constants.DefaultPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := intParam(values.Get("offset"), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filter := &interfaces.ReleaseFilter{Limit: limit, Offset: offset}
	for _, label := range values["label"] {
		key, value, ok := strings.Cut(label, "=")
		if !ok || key == "" {
			s.writeError(w, r, errors.NewValidationError(errors.CodeInvalidFormat, "label filter must be key=value"))
			return
		}
		if filter.Labels == nil {
			filter.Labels = make(map[string]string)
		}
		filter.Labels[key] = value
	}

	summaries, err := s.service.ListReleases(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []models.ReleaseSummary{}
	}

	s.writeJSON(w, http.StatusOK, ListResponse{Releases: summaries, Limit: filter.Limit, Offset: filter.Offset})
}

func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	release, err := s.service.GetRelease(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, release)
}

func (s *Server) handleDeleteRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRelease(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	values := r.URL.Query()

	lower, err := requiredIntParam(values.Get("lower"), "lower")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	upper, err := requiredIntParam(values.Get("upper"), "upper")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := models.Query{Lower: lower, Upper: upper}
	answer, err := s.service.Answer(r.Context(), id, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, AnswerResponse{ReleaseID: id, Query: q, Answer: answer})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	values := r.URL.Query()

	count, err := requiredIntParam(values.Get("count"), "count")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var seed *uint64
	if raw := values.Get("seed"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, errors.NewValidationError(errors.CodeInvalidFormat, "seed must be an unsigned integer"))
			return
		}
		seed = &parsed
	}

	records, err := s.service.Sample(r.Context(), id, count, seed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if values.Get("format") == "csv" {
		s.writeCSV(w, records)
		return
	}

	s.writeJSON(w, http.StatusOK, SampleResponse{ReleaseID: id, Count: len(records), Records: records})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	err := errors.NewValidationError(errors.CodeInvalidInput, "Route not found")
	err.HTTPStatus = http.StatusNotFound
	s.writeError(w, r, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.MimeTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeCSV(w http.ResponseWriter, records []int) {
	w.Header().Set(constants.HeaderContentType, constants.MimeTypeCSV)
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"value"}); err != nil {
		s.logger.WithError(err).Error("Failed to write CSV header")
		return
	}
	for _, v := range records {
		if err := writer.Write([]string{strconv.Itoa(v)}); err != nil {
			s.logger.WithError(err).Error("Failed to write CSV row")
			return
		}
	}
	writer.Flush()
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "Internal server error")
	}

	status := errors.HTTPStatus(appErr)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", getRequestID(r)).Error("Request failed")
	}

	s.writeJSON(w, status, errors.ErrorResponse{
		Error:     appErr,
		RequestID: getRequestID(r),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(errors.CodeInvalidFormat, "expected an integer, got "+strconv.Quote(raw))
	}
	return v, nil
}

func requiredIntParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, errors.NewValidationError(errors.CodeMissingField, "query parameter "+name+" is required")
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(errors.CodeInvalidFormat, name+" must be an integer")
	}
	return v, nil
}
