// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 TaskFlow 的 HTTP API 处理器。

# 处理器

  - HealthHandler: /health /healthz /ready /version 端点，
    支持注册外部依赖（快照存储等）的就绪检查
  - WorkflowHandler: 工作流定义注册、实例创建与调度、
    状态查询、暂停/恢复/取消/删除

所有响应使用统一的 Response 信封，错误通过 types.Error
映射为对应的 HTTP 状态码。
*/
package handlers
