package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"spoolhub/pkg/domain"
	"spoolhub/pkg/storage"
	"spoolhub/pkg/workflow"
)

const folderContentType = "application/x-directory"

func (a *App) ListProjects(ctx context.Context, userID string) (Result, error) {
	projects, err := a.store.Projects().FindAll(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(projects), nil
}

func (a *App) GetProject(ctx context.Context, userID, id string) (Result, error) {
	project, err := a.store.Projects().FindOne(ctx, id, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(project), nil
}

// CreateProject writes the document and an empty folder marker blob. A
// failed put aborts the transaction.
func (a *App) CreateProject(ctx context.Context, userID string, in ProjectInput) (Result, error) {
	name := strings.TrimSpace(in.Name)
	ids, err := a.runner.Run(ctx, "create_project", func(u *workflow.Unit) error {
		if err := ensureProjectNameFree(u, userID, name, ""); err != nil {
			return err
		}
		project, err := u.Repos().Projects().Create(u.Context(), domain.Project{
			Owned:            domain.Owned{UserID: userID},
			Name:             name,
			ShortDescription: in.ShortDescription,
			Description:      in.Description,
			Files:            []domain.File{},
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{ProjectID: project.ID})
		return u.PutObject(storage.ProjectPrefix(userID, name), bytes.NewReader(nil), 0, folderContentType)
	})
	if err != nil {
		return Result{}, err
	}
	return createdResult(ids), nil
}

// UpdateProject edits the metadata. A rename copies every file to the new
// folder now and drops the old folder once the rename is committed.
func (a *App) UpdateProject(ctx context.Context, userID, id string, in ProjectPatch) (Result, error) {
	ids, err := a.runner.Run(ctx, "modify_project", func(u *workflow.Unit) error {
		if in.Name != nil {
			if err := ensureProjectNameFree(u, userID, strings.TrimSpace(*in.Name), id); err != nil {
				return err
			}
		}
		var before domain.Project
		project, err := u.Repos().Projects().Update(u.Context(), id, userID, func(p *domain.Project) error {
			before = *p
			if in.Name != nil {
				p.Name = strings.TrimSpace(*in.Name)
			}
			setIf(&p.ShortDescription, in.ShortDescription)
			setIf(&p.Description, in.Description)
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{ProjectID: project.ID})
		if project.Name == before.Name {
			return nil
		}
		if err := u.PutObject(storage.ProjectPrefix(userID, project.Name), bytes.NewReader(nil), 0, folderContentType); err != nil {
			return err
		}
		for _, f := range project.Files {
			src := storage.ProjectFileKey(userID, before.Name, f.FileName())
			dst := storage.ProjectFileKey(userID, project.Name, f.FileName())
			if err := u.CopyObject(src, dst); err != nil {
				return fmt.Errorf("move %s: %w", f.FileName(), err)
			}
		}
		u.DeletePrefixAfterCommit(storage.ProjectPrefix(userID, before.Name))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

// DeleteProject soft-deletes the document and keeps its files, or removes
// both when mode is hard.
func (a *App) DeleteProject(ctx context.Context, userID, id string, mode domain.DeleteMode) (Result, error) {
	_, err := a.runner.Run(ctx, "delete_project", func(u *workflow.Unit) error {
		repos := u.Repos().Projects()
		if mode != domain.DeleteHard {
			return repos.SoftDelete(u.Context(), id, userID)
		}
		project, err := repos.FindOne(u.Context(), id, userID)
		if err != nil {
			return err
		}
		if err := repos.HardDelete(u.Context(), id, userID); err != nil {
			return err
		}
		u.DeletePrefixAfterCommit(storage.ProjectPrefix(userID, project.Name))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return noContentResult(), nil
}

// UploadFile appends the file metadata and stores the content. The blob is
// deleted again if the transaction does not commit.
func (a *App) UploadFile(ctx context.Context, userID, projectID string, in UploadFileInput, content io.Reader, size int64, contentType string) (Result, error) {
	ext := normalizeExtension(in.Extension)
	if _, ok := domain.AllowedProjectExtensions[ext]; !ok {
		return Result{}, domain.InvalidInput(fmt.Sprintf("File extension .%s is not allowed.", ext), "file")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ids, err := a.runner.Run(ctx, "upload_file", func(u *workflow.Unit) error {
		now := a.now().UTC()
		file := domain.File{
			ID:          uuid.NewString(),
			Name:        strings.TrimSpace(in.Name),
			Extension:   ext,
			Size:        size,
			ContentType: contentType,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		project, err := u.Repos().Projects().Update(u.Context(), projectID, userID, func(p *domain.Project) error {
			for _, f := range p.Files {
				if f.FileName() == file.FileName() {
					return domain.InvalidInput(fmt.Sprintf("File %s already exists.", file.FileName()), "file")
				}
			}
			p.Files = append(p.Files, file)
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{ProjectID: project.ID, FileID: file.ID})
		return u.PutObject(storage.ProjectFileKey(userID, project.Name, file.FileName()), content, size, contentType)
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

// DownloadFile streams a project file. The caller closes the body.
func (a *App) DownloadFile(ctx context.Context, userID, projectID, fileID string) (Result, error) {
	project, err := a.store.Projects().FindOne(ctx, projectID, userID)
	if err != nil {
		return Result{}, err
	}
	idx := project.FileIndex(fileID)
	if idx < 0 {
		return Result{}, domain.NotFound("File", "fileId")
	}
	file := project.Files[idx]
	obj, err := a.objects.Get(ctx, storage.ProjectFileKey(userID, project.Name, file.FileName()))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return Result{}, domain.NotFound("File", "fileId")
	}
	if err != nil {
		return Result{}, fmt.Errorf("get file: %w", err)
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = obj.ContentType
	}
	return downloadResult(&Download{
		FileName:    file.FileName(),
		ContentType: contentType,
		Size:        obj.Size,
		Body:        obj.Body,
	}), nil
}

// DeleteFile drops the metadata now and the blob after commit.
func (a *App) DeleteFile(ctx context.Context, userID, projectID, fileID string) (Result, error) {
	_, err := a.runner.Run(ctx, "delete_file", func(u *workflow.Unit) error {
		var removed domain.File
		project, err := u.Repos().Projects().Update(u.Context(), projectID, userID, func(p *domain.Project) error {
			idx := p.FileIndex(fileID)
			if idx < 0 {
				return domain.NotFound("File", "fileId")
			}
			removed = p.Files[idx]
			p.Files = append(p.Files[:idx:idx], p.Files[idx+1:]...)
			return nil
		})
		if err != nil {
			return err
		}
		u.DeleteObjectAfterCommit(storage.ProjectFileKey(userID, project.Name, removed.FileName()))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return noContentResult(), nil
}

func ensureProjectNameFree(u *workflow.Unit, userID, name, selfID string) error {
	existing, found, err := u.Repos().Projects().FindByName(u.Context(), userID, name)
	if err != nil {
		return fmt.Errorf("find project by name: %w", err)
	}
	if found && existing.ID != selfID {
		return domain.InvalidInput(fmt.Sprintf("Project named %s already exists.", name), "name")
	}
	return nil
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
