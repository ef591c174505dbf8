package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"spoolhub/internal/util"
	"spoolhub/pkg/domain"
	"spoolhub/services/api/internal/app"
)

const maxJSONBytes = 1 << 20

type valueEnvelope struct {
	Value any `json:"value"`
}

type errorBody struct {
	Status  int      `json:"status"`
	Message string   `json:"message"`
	Issues  []string `json:"issues"`
}

// respond renders an app.Result, or the error when err is non-nil.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, res app.Result, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch res.Kind {
	case app.ResultJSON:
		writeJSON(w, res.Status, valueEnvelope{Value: res.Value})
	case app.ResultNoContent:
		w.WriteHeader(res.Status)
	case app.ResultAuth:
		for k, v := range res.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(res.Status)
	case app.ResultDownload:
		s.writeDownload(w, r, res)
	default:
		s.writeError(w, r, fmt.Errorf("unknown result kind %q", res.Kind))
	}
}

func (s *Server) writeDownload(w http.ResponseWriter, r *http.Request, res app.Result) {
	d := res.Download
	if d == nil || d.Body == nil {
		s.writeError(w, r, errors.New("no file content"))
		return
	}
	defer d.Body.Close()
	contentType := d.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+d.FileName)
	w.Header().Set("Content-Type", contentType)
	if d.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(res.Status)
	if _, err := io.Copy(w, d.Body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("download_interrupted", "file", d.FileName, "err", err)
	}
}

// writeError renders any error as {status, message, issues}. Unexpected
// errors are logged and reported as 500 without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := domain.AsError(err)
	if de.Kind == domain.KindInternal {
		util.LoggerFromContext(r.Context()).Error("request_failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	issues := de.Issues
	if issues == nil {
		issues = []string{}
	}
	writeErrorBody(w, errorBody{Status: de.Status(), Message: de.Message, Issues: issues})
}

func writeErrorBody(w http.ResponseWriter, body errorBody) {
	if body.Issues == nil {
		body.Issues = []string{}
	}
	writeJSON(w, body.Status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a JSON object into dst. An empty body leaves dst
// untouched; unknown properties are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			field = strings.Trim(field, `"`)
			return domain.InvalidInput(fmt.Sprintf("property %s should not exist", field), field)
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return domain.InvalidInput(fmt.Sprintf("%s has an invalid type", typeErr.Field), typeErr.Field)
		}
		return domain.InvalidInput("Request body must be a valid JSON object", "body")
	}
	return nil
}

// decodeInput decodes and validates a request body.
func decodeInput[T app.Validator](r *http.Request) (T, error) {
	var in T
	if err := decodeJSON(r, &in); err != nil {
		return in, err
	}
	return in, in.Validate()
}
