package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/colmap/colmap/internal/domain"
)

type createProjectRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	AIConfigID    string   `json:"ai_config_id"`
	DedupEnabled  bool     `json:"dedup_enabled"`
	DedupFields   []string `json:"dedup_fields"`
	DedupStrategy string   `json:"dedup_strategy"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	strategy := domain.DedupStrategy(req.DedupStrategy)
	if strategy == "" {
		strategy = domain.DedupSkip
	}
	project := domain.NewProject(newID(), req.Name, req.Description, req.AIConfigID,
		req.DedupEnabled, req.DedupFields, strategy, time.Now())
	if err := s.store.SaveProject(r.Context(), project); err != nil {
		s.logger.Error("create project failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": project.ID()})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, len(projects))
	for i, p := range projects {
		out[i] = map[string]any{
			"id": p.ID(), "name": p.Name(), "description": p.Description(), "ai_config_id": p.AIConfigID(),
			"dedup_enabled": p.DedupEnabled(), "dedup_fields": p.DedupFields(), "dedup_strategy": p.DedupStrategy(),
			"created_at": p.CreatedAt(), "updated_at": p.UpdatedAt(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.store.DeleteProject(r.Context(), projectID); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createFieldRequest struct {
	Name           string `json:"name"`
	Label          string `json:"label"`
	FieldType      string `json:"field_type"`
	Required       bool   `json:"required"`
	DedupKey       bool   `json:"dedup_key"`
	ValidationRule string `json:"validation_rule"`
	ExtractionHint string `json:"extraction_hint"`
	DisplayOrder   int    `json:"display_order"`
}

// syncRecordsTable reloads a project's active fields and ensures its
// dynamic records table carries a physical column for every one of them,
// called after any create/restore/update that can add a new logical field.
func (s *Server) syncRecordsTable(ctx context.Context, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	fields, err := s.store.ActiveFields(ctx, projectID)
	if err != nil {
		return err
	}
	return s.store.EnsureRecordsTable(ctx, project, fields)
}

// handleCreateField restores a soft-deleted field of the same logical
// name instead of creating a duplicate row when one exists.
func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req createFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	existing, err := s.store.FindFieldByName(r.Context(), projectID, req.Name)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	var field *domain.Field
	if existing != nil && existing.IsDeleted() {
		existing.Restore(now)
		field = existing
	} else if existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "field already exists"})
		return
	} else {
		field = domain.NewField(newID(), projectID, req.Name, req.Label, domain.FieldType(req.FieldType),
			req.Required, req.DedupKey, req.ValidationRule, req.ExtractionHint, req.DisplayOrder, now)
	}

	if err := s.store.SaveField(r.Context(), field); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := s.syncRecordsTable(r.Context(), projectID); err != nil {
		s.logger.Error("sync records table failed", "project_id", projectID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": field.ID()})
}

type updateFieldRequest struct {
	Label          string `json:"label"`
	FieldType      string `json:"field_type"`
	Required       bool   `json:"required"`
	DedupKey       bool   `json:"dedup_key"`
	ValidationRule string `json:"validation_rule"`
	ExtractionHint string `json:"extraction_hint"`
	DisplayOrder   int    `json:"display_order"`
}

// handleUpdateField edits a field's mutable attributes (label, type,
// required/dedup-key flags, validation rule, extraction hint, display
// order) by its logical name; the logical name itself is immutable since
// it is the soft-delete-restore key.
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	fieldID := chi.URLParam(r, "fieldID")

	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	field, err := s.store.FindFieldByName(r.Context(), projectID, fieldID)
	if err != nil || field == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	field.Update(req.Label, domain.FieldType(req.FieldType), req.Required, req.DedupKey,
		req.ValidationRule, req.ExtractionHint, req.DisplayOrder, time.Now())

	if err := s.store.SaveField(r.Context(), field); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := s.syncRecordsTable(r.Context(), projectID); err != nil {
		s.logger.Error("sync records table failed", "project_id", projectID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": field.ID()})
}

func (s *Server) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	fieldID := chi.URLParam(r, "fieldID")

	field, err := s.store.FindFieldByName(r.Context(), projectID, fieldID)
	if err != nil || field == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	field.MarkDeleted(time.Now())
	if err := s.store.SaveField(r.Context(), field); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreField(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	fieldID := chi.URLParam(r, "fieldID")

	field, err := s.store.FindFieldByName(r.Context(), projectID, fieldID)
	if err != nil || field == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	field.Restore(time.Now())
	if err := s.store.SaveField(r.Context(), field); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := s.syncRecordsTable(r.Context(), projectID); err != nil {
		s.logger.Error("sync records table failed", "project_id", projectID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type submitTaskRequest struct {
	FilePaths []string `json:"file_paths"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	taskID := newID()
	task := domain.NewProcessingTask(taskID, projectID, "", time.Now())
	if err := s.store.SaveTask(r.Context(), task); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	go func() {
		if err := s.coord.ProcessFiles(r.Context(), project, taskID, req.FilePaths); err != nil {
			s.logger.Error("task processing failed", "task_id", taskID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": task.ID(), "project_id": task.ProjectID(), "batch_id": task.BatchID(), "status": task.Status(),
		"total_rows": task.TotalRows(), "processed_rows": task.ProcessedRows(), "success_rows": task.SuccessRows(),
		"error_rows": task.ErrorRows(), "error_message": task.ErrorMessage(),
		"created_at": task.CreatedAt(), "updated_at": task.UpdatedAt(), "completed_at": task.CompletedAt(),
	})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if ctrl := s.coord.Registry().Get(taskID); ctrl != nil {
		ctrl.Pause()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if ctrl := s.coord.Registry().Get(taskID); ctrl != nil {
		ctrl.Resume()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if ctrl := s.coord.Registry().Get(taskID); ctrl != nil {
		ctrl.Cancel()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleQueryRecords(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	fields, err := s.store.ActiveFields(r.Context(), projectID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	filter := filterFromQuery(r)
	records, total, err := s.store.QueryRecords(r.Context(), project, fields, filter)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "total": total})
}

func (s *Server) handleExportRecords(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	fields, err := s.store.ActiveFields(r.Context(), projectID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	filter := filterFromQuery(r)
	format := r.URL.Query().Get("format")

	if format == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", "attachment; filename=export.xlsx")
		if err := s.store.ExportXLSX(r.Context(), project, fields, filter, w); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=export.csv")
	if err := s.store.ExportCSV(r.Context(), project, fields, filter, w); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleTestAIConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.llm.TestConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
}

