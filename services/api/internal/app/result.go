package app

import (
	"io"
	"net/http"

	"spoolhub/pkg/domain"
	"spoolhub/pkg/workflow"
)

// ResultKind tells the HTTP layer how to render a Result.
type ResultKind string

const (
	ResultJSON      ResultKind = "json"
	ResultNoContent ResultKind = "no-content"
	ResultAuth      ResultKind = "auth"
	ResultDownload  ResultKind = "download"
)

// Header names carrying a freshly issued credential pair.
const (
	HeaderAuthorization = "Authorization"
	HeaderRefreshToken  = "Refresh-Token"
)

// Download is a binary payload. The renderer closes Body.
type Download struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Result is the uniform outcome of every operation.
type Result struct {
	Status   int
	Kind     ResultKind
	Value    any
	Headers  map[string]string
	Download *Download
}

// Session is the value of a login or renew result.
type Session struct {
	Tokens domain.TokenPair `json:"tokens"`
	User   *domain.User     `json:"user,omitempty"`
}

func okResult(value any) Result {
	return Result{Status: http.StatusOK, Kind: ResultJSON, Value: value}
}

func createdResult(ids workflow.IDs) Result {
	return Result{Status: http.StatusCreated, Kind: ResultJSON, Value: ids}
}

func noContentResult() Result {
	return Result{Status: http.StatusNoContent, Kind: ResultNoContent}
}

func authResult(pair domain.TokenPair, user *domain.User) Result {
	return Result{
		Status: http.StatusNoContent,
		Kind:   ResultAuth,
		Value:  Session{Tokens: pair, User: user},
		Headers: map[string]string{
			HeaderAuthorization: "Bearer " + pair.AccessToken,
			HeaderRefreshToken:  "Bearer " + pair.RefreshToken,
		},
	}
}

func downloadResult(d *Download) Result {
	return Result{Status: http.StatusOK, Kind: ResultDownload, Download: d}
}
