// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供实验记录本引擎的全局共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包。blob、lineage、entry、
integration、execution 等上层模块通过统一的 Error / ErrorCode
向调用方报告误用或存储故障，调用方可用 errors.As / GetErrorCode
判别错误类别。

# 核心类型

  - ErrorCode: 错误码（NOT_FOUND、UNKNOWN_ENTRY_TYPE、INVALID_STATE、
    CYCLE_DETECTED、INTEGRITY_FAILURE、BACKEND_EXECUTION 等）
  - Error    : 结构化错误，含 Code、Message、Retryable 与 Cause

# 主要能力

  - 错误链：WithCause / Unwrap 兼容标准库 errors.Is / errors.As
  - 按错误码匹配：errors.Is(err, NewError(ErrNotFound, ""))
  - 判别辅助：GetErrorCode、IsCode、IsNotFound、IsInvalidState
*/
package types
