// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 integration 定义集成后端的统一执行契约与显式注册表。

# 概述

每种 entry_type 对应一个 Backend。Backend 接收合并后的输入，返回
outputs 与若干原始产物（字节、媒体类型、元数据）。注册表在进程启动
时显式构造并注入执行协调器，重复注册属于配置错误。

# 核心类型

  - Backend / BackendFunc：执行契约
  - Result / Artifact：执行结果
  - Validator：可选的输入校验
  - Registry：Register / MustRegister / Resolve / Types
  - VariableStore / MemoryVariables：按 entry_type 存放的默认输入变量

# 子包

  - httpcall：api_call，HTTP 调用
  - sqlquery：database_query，SQL 查询
  - graphflow：comfyui，节点图工作流引擎
  - graphql：graphql，GraphQL 查询
  - manual：custom，手工记录
*/
package integration
