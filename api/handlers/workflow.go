package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// =============================================================================
// 🔄 工作流 Handler
// =============================================================================

// WorkflowHandler 工作流编排处理器
type WorkflowHandler struct {
	engine *workflow.Engine
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(engine *workflow.Engine, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		engine: engine,
		logger: logger.With(zap.String("handler", "workflow")),
	}
}

// =============================================================================
// 📦 请求/响应结构
// =============================================================================

// CreateInstanceRequest 创建实例请求
type CreateInstanceRequest struct {
	// Definition 已注册的工作流定义名
	Definition string `json:"definition"`

	// Inputs 实例初始变量
	Inputs map[string]any `json:"inputs,omitempty"`

	// Schedule 为 true 时创建后立即提交调度
	Schedule bool `json:"schedule,omitempty"`

	// ScheduleAt 延迟触发时间（需 Schedule 为 true）
	ScheduleAt *time.Time `json:"schedule_at,omitempty"`
}

// InstanceStatusResponse 实例状态响应
type InstanceStatusResponse struct {
	ID      string                  `json:"id"`
	State   workflow.State          `json:"state"`
	History []workflow.HistoryEntry `json:"history"`
	Error   *ErrorInfo              `json:"error,omitempty"`
}

// =============================================================================
// 📋 定义端点
// =============================================================================

// HandleRegisterDefinition 处理 POST /api/v1/definitions
func (h *WorkflowHandler) HandleRegisterDefinition(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		WriteErrorMessage(w, types.ErrValidation, "invalid request body: "+err.Error(), h.logger)
		return
	}

	if err := h.engine.RegisterDefinition(&def); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("definition registered",
		zap.String("definition", def.Name),
		zap.Int("steps", len(def.Steps)),
	)
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      map[string]any{"name": def.Name, "steps": len(def.Steps)},
		Timestamp: time.Now(),
	})
}

// HandleListDefinitions 处理 GET /api/v1/definitions
func (h *WorkflowHandler) HandleListDefinitions(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]any{"definitions": h.engine.ListDefinitions()})
}

// =============================================================================
// ⚙️ 实例端点
// =============================================================================

// HandleCreateInstance 处理 POST /api/v1/instances
func (h *WorkflowHandler) HandleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorMessage(w, types.ErrValidation, "invalid request body: "+err.Error(), h.logger)
		return
	}
	if req.Definition == "" {
		WriteErrorMessage(w, types.ErrValidation, "definition name is required", h.logger)
		return
	}

	id, err := h.engine.CreateInstance(req.Definition, req.Inputs)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if req.Schedule {
		if err := h.engine.Schedule(id, req.ScheduleAt); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}

	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      map[string]any{"id": id, "scheduled": req.Schedule},
		Timestamp: time.Now(),
	})
}

// HandleListInstances 处理 GET /api/v1/instances[?state=...]
func (h *WorkflowHandler) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	var filter *workflow.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		st := workflow.State(raw)
		if !st.Valid() {
			WriteErrorMessage(w, types.ErrValidation, "unknown state: "+raw, h.logger)
			return
		}
		filter = &st
	}

	WriteSuccess(w, map[string]any{"instances": h.engine.ListInstances(filter)})
}

// HandleGetInstance 处理 GET /api/v1/instances/{id}
func (h *WorkflowHandler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	state, history, err := h.engine.GetStatus(id)
	if err != nil {
		var typed *types.Error
		if errors.As(err, &typed) && typed.Code == types.ErrNotFound {
			WriteError(w, err, h.logger)
			return
		}
		// 失败实例：状态与终止错误一并返回
		resp := InstanceStatusResponse{ID: id, State: state, History: history}
		if errors.As(err, &typed) {
			resp.Error = &ErrorInfo{
				Code:      string(typed.Code),
				Message:   typed.Message,
				Workflow:  typed.Workflow,
				Step:      typed.Step,
				Retryable: typed.Retryable,
			}
		} else {
			resp.Error = &ErrorInfo{Code: string(types.ErrInternalError), Message: err.Error()}
		}
		WriteSuccess(w, resp)
		return
	}

	WriteSuccess(w, InstanceStatusResponse{ID: id, State: state, History: history})
}

// HandleScheduleInstance 处理 POST /api/v1/instances/{id}/schedule
func (h *WorkflowHandler) HandleScheduleInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		At *time.Time `json:"at,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteErrorMessage(w, types.ErrValidation, "invalid request body: "+err.Error(), h.logger)
			return
		}
	}

	if err := h.engine.Schedule(id, body.At); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"id": id, "scheduled": true})
}

// HandleCancelInstance 处理 POST /api/v1/instances/{id}/cancel
func (h *WorkflowHandler) HandleCancelInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Cancel(id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"id": id, "cancelled": true})
}

// HandlePauseInstance 处理 POST /api/v1/instances/{id}/pause
func (h *WorkflowHandler) HandlePauseInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Pause(id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"id": id, "paused": true})
}

// HandleResumeInstance 处理 POST /api/v1/instances/{id}/resume
func (h *WorkflowHandler) HandleResumeInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Resume(id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"id": id, "resumed": true})
}

// HandleDeleteInstance 处理 DELETE /api/v1/instances/{id}
func (h *WorkflowHandler) HandleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteInstance(id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"id": id, "deleted": true})
}
