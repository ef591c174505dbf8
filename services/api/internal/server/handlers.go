package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"spoolhub/pkg/domain"
	"spoolhub/services/api/internal/app"
)

const uploadFieldName = "projectFile"

// pathIDs returns the named route variables, rejecting blank or malformed ids.
func pathIDs(r *http.Request, names ...string) ([]string, error) {
	vars := mux.Vars(r)
	out := make([]string, 0, len(names))
	var (
		issues   []string
		messages []string
	)
	for _, name := range names {
		value := strings.TrimSpace(vars[name])
		switch {
		case value == "":
			issues = append(issues, name)
			messages = append(messages, fmt.Sprintf("Param %s is required.", name))
		case !isID(value):
			issues = append(issues, name)
			messages = append(messages, fmt.Sprintf("Param %s must be valid id", name))
		}
		out = append(out, value)
	}
	if len(issues) > 0 {
		return nil, domain.InvalidInput(strings.Join(messages, " "), issues...)
	}
	return out, nil
}

func isID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func pathID(r *http.Request, name string) (string, error) {
	ids, err := pathIDs(r, name)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// deleteMode reads the delete type from the route or the ?type= query.
func deleteMode(r *http.Request) (domain.DeleteMode, error) {
	raw, ok := mux.Vars(r)["deleteType"]
	if !ok {
		raw = r.URL.Query().Get("type")
	}
	mode, ok := domain.ParseDeleteMode(raw)
	if !ok {
		return "", domain.InvalidInput("Param deleteType must be one of: soft, hard", "deleteType")
	}
	return mode, nil
}

// users

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.app.GetUser(r.Context(), userID)
	s.respond(w, r, res, err)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := decodeInput[app.UpdateUserInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.UpdateUser(r.Context(), userID, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.app.DeleteUser(r.Context(), userID)
	s.respond(w, r, res, err)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.app.GetSettings(r.Context(), userID)
	s.respond(w, r, res, err)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := decodeInput[app.SettingsInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.UpdateSettings(r.Context(), userID, in)
	s.respond(w, r, res, err)
}

// filaments

func (s *Server) handleListFilaments(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.app.ListFilaments(r.Context(), userID)
	s.respond(w, r, res, err)
}

func (s *Server) handleGetFilament(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "filamentId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.GetFilament(r.Context(), userID, id)
	s.respond(w, r, res, err)
}

func (s *Server) handleCreateFilament(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := decodeInput[app.FilamentInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.CreateFilament(r.Context(), userID, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleUpdateFilament(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "filamentId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := decodeInput[app.FilamentPatch](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.UpdateFilament(r.Context(), userID, id, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleDeleteFilament(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "filamentId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, err := deleteMode(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.DeleteFilament(r.Context(), userID, id, mode)
	s.respond(w, r, res, err)
}

// rolls

func (s *Server) handleListRolls(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.app.ListRolls(r.Context(), userID)
	s.respond(w, r, res, err)
}

func (s *Server) handleListRollsByFilament(w http.ResponseWriter, r *http.Request, userID string) {
	filamentID, err := pathID(r, "filamentId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.ListRollsByFilament(r.Context(), userID, filamentID)
	s.respond(w, r, res, err)
}

func (s *Server) handleRollStatistics(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.app.RollStatistics(r.Context(), userID)
	s.respond(w, r, res, err)
}

func (s *Server) handleGetRoll(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "rollId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.GetRoll(r.Context(), userID, id)
	s.respond(w, r, res, err)
}

func (s *Server) handleCreateRoll(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := decodeInput[app.RollInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.CreateRoll(r.Context(), userID, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleUpdateRoll(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "rollId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := decodeInput[app.RollPatch](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.UpdateRoll(r.Context(), userID, id, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleConsumeRoll(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "rollId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := decodeInput[app.ChangeWeightInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.ConsumeRoll(r.Context(), userID, id, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleArchiveRoll(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "rollId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.ArchiveRoll(r.Context(), userID, id)
	s.respond(w, r, res, err)
}

func (s *Server) handleDeleteRoll(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "rollId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, err := deleteMode(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.DeleteRoll(r.Context(), userID, id, mode)
	s.respond(w, r, res, err)
}

// orders

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.app.ListOrders(r.Context(), userID)
	s.respond(w, r, res, err)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "orderId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.GetOrder(r.Context(), userID, id)
	s.respond(w, r, res, err)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := decodeInput[app.OrderInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.CreateOrder(r.Context(), userID, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "orderId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := decodeInput[app.OrderPatch](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.UpdateOrder(r.Context(), userID, id, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleCompleteOrder(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "orderId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.CompleteOrder(r.Context(), userID, id)
	s.respond(w, r, res, err)
}

func (s *Server) handleArchiveOrder(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "orderId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.ArchiveOrder(r.Context(), userID, id)
	s.respond(w, r, res, err)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "orderId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, err := deleteMode(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.DeleteOrder(r.Context(), userID, id, mode)
	s.respond(w, r, res, err)
}

// projects

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.app.ListProjects(r.Context(), userID)
	s.respond(w, r, res, err)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "projectId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.GetProject(r.Context(), userID, id)
	s.respond(w, r, res, err)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := decodeInput[app.ProjectInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.CreateProject(r.Context(), userID, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "projectId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := decodeInput[app.ProjectPatch](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.UpdateProject(r.Context(), userID, id, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "projectId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, err := deleteMode(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.DeleteProject(r.Context(), userID, id, mode)
	s.respond(w, r, res, err)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request, userID string) {
	projectID, err := pathID(r, "projectId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, domain.InvalidInput(fmt.Sprintf("File must not be larger than %d bytes", s.maxUploadBytes), uploadFieldName))
			return
		}
		s.writeError(w, r, domain.InvalidInput("Request must be multipart/form-data", uploadFieldName))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()
	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		s.writeError(w, r, domain.InvalidInput("Invalid key name; should be "+uploadFieldName, uploadFieldName))
		return
	}
	defer file.Close()
	if header.Size == 0 {
		s.writeError(w, r, domain.InvalidInput("Buffer is empty", uploadFieldName))
		return
	}
	in := app.UploadFileInput{
		Name:      r.FormValue("name"),
		Extension: r.FormValue("extension"),
	}
	if err := in.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.UploadFile(r.Context(), userID, projectID, in, file, header.Size, header.Header.Get("Content-Type"))
	s.respond(w, r, res, err)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request, userID string) {
	ids, err := pathIDs(r, "projectId", "fileId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.DownloadFile(r.Context(), userID, ids[0], ids[1])
	s.respond(w, r, res, err)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, userID string) {
	ids, err := pathIDs(r, "projectId", "fileId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.DeleteFile(r.Context(), userID, ids[0], ids[1])
	s.respond(w, r, res, err)
}
