// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 TaskFlow 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 workflow、persistence、
config 等上层模块提供统一的错误契约。所有跨包共享的错误码与结构化错误
均定义于此，以避免循环依赖。

# 错误体系

  - Error / ErrorCode — 结构化错误，含 Retryable、Workflow、Step、Retries 标记
  - 注册与调度类错误码：VALIDATION / NOT_FOUND / DUPLICATE / INVALID_STATE /
    CAPACITY_EXCEEDED
  - 执行类错误码：STEP_TIMEOUT / STEP_EXECUTION / CANCELLED / INTERNAL_ERROR

# 主要能力

  - 错误工具链：NewError / NewErrorf / WithCause / WithRetryable / WithStep
  - 错误判定：IsRetryable / GetErrorCode / HasCode / IsNotFound / IsDuplicate
  - errors.Is / errors.As 兼容：按错误码匹配，支持 Unwrap 链
*/
package types
