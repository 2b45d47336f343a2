package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/api/handlers"
	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/internal/server"
	"github.com/BaSui01/taskflow/persistence"
	"github.com/BaSui01/taskflow/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 TaskFlow 的主服务器
type Server struct {
	cfg    *config.Config
	addr   string
	logger *zap.Logger

	engine *workflow.Engine
	store  workflow.SnapshotStore

	httpManager *server.Manager

	// Handlers
	healthHandler   *handlers.HealthHandler
	workflowHandler *handlers.WorkflowHandler

	// 引擎生命周期
	engineCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, addr string, logger *zap.Logger) (*Server, error) {
	engine := workflow.NewEngine(cfg.Engine.ToEngine(), nil, logger)

	store, err := persistence.NewSnapshotStore(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	return &Server{
		cfg:    cfg,
		addr:   addr,
		logger: logger,
		engine: engine,
		store:  store,
	}, nil
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动引擎与 HTTP 服务
func (s *Server) Start() error {
	// 1. 恢复上次快照
	if err := s.restoreSnapshot(); err != nil {
		s.logger.Warn("snapshot restore failed, starting empty", zap.Error(err))
	}

	// 2. 启动引擎调度循环
	ctx, cancel := context.WithCancel(context.Background())
	s.engineCancel = cancel
	s.engine.Start(ctx)

	// 3. 初始化 Handlers 并启动 HTTP 服务
	s.initHandlers()
	if err := s.startHTTPServer(); err != nil {
		cancel()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("addr", s.httpManager.Addr()),
		zap.String("store", string(s.cfg.Store.Type)),
	)
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(
		handlers.NewStoreHealthCheck("snapshot_store", s.store.Ping),
	)
	s.workflowHandler = handlers.NewWorkflowHandler(s.engine, s.logger)
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查与版本
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// Prometheus 指标
	mux.Handle("GET /metrics", promhttp.Handler())

	// 工作流 API
	mux.HandleFunc("POST /api/v1/definitions", s.workflowHandler.HandleRegisterDefinition)
	mux.HandleFunc("GET /api/v1/definitions", s.workflowHandler.HandleListDefinitions)
	mux.HandleFunc("POST /api/v1/instances", s.workflowHandler.HandleCreateInstance)
	mux.HandleFunc("GET /api/v1/instances", s.workflowHandler.HandleListInstances)
	mux.HandleFunc("GET /api/v1/instances/{id}", s.workflowHandler.HandleGetInstance)
	mux.HandleFunc("POST /api/v1/instances/{id}/schedule", s.workflowHandler.HandleScheduleInstance)
	mux.HandleFunc("POST /api/v1/instances/{id}/cancel", s.workflowHandler.HandleCancelInstance)
	mux.HandleFunc("POST /api/v1/instances/{id}/pause", s.workflowHandler.HandlePauseInstance)
	mux.HandleFunc("POST /api/v1/instances/{id}/resume", s.workflowHandler.HandleResumeInstance)
	mux.HandleFunc("DELETE /api/v1/instances/{id}", s.workflowHandler.HandleDeleteInstance)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = s.addr

	handler := server.WithRequestLogging(mux, s.logger)
	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 💾 快照
// =============================================================================

func (s *Server) restoreSnapshot() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store not reachable: %w", err)
	}
	return s.engine.LoadSnapshot(ctx, s.store)
}

func (s *Server) saveSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.engine.SaveSnapshot(ctx, s.store); err != nil {
		s.logger.Error("snapshot save failed", zap.Error(err))
		return
	}
	s.logger.Info("snapshot saved")
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	// 1. 停止引擎（排空执行中的实例）
	if s.engineCancel != nil {
		s.engineCancel()
	}
	s.engine.Stop()

	// 2. 落盘最终快照
	s.saveSnapshot()

	// 3. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(context.Background()); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭存储
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
