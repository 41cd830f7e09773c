// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 execution 驱动 Entry 走完执行状态机。

# 概述

Coordinator 是唯一允许把 Entry 移出 created 状态的组件。一次执行
先通过存储层的条件更新把 created 原子地切到 running 并立即落盘，
随后解析集成后端、调用、提交产物，最终写入 completed 或 failed。
同一 Entry 的并发执行由这一条件更新天然串行化：后到者得到
INVALID_STATE。

# 核心类型

  - Coordinator：Execute 同步执行，Submit 在工作池中异步执行
  - Stats：累计执行计数与耗时

# 失败语义

后端返回的错误（包括 panic）被记录到 execution.error，Entry 进入
failed，不向调用方传播。产物按全有或全无提交：任何一个产物写入
失败都会让 Entry 失败且不挂载任何产物。
*/
package execution
