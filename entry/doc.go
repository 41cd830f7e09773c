// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 entry 定义实验条目记录及其状态机。

# 状态机

	created → running → {completed, failed}

created 为初始状态，completed 与 failed 为终态，终态不可再迁移。
inputs 仅在 created 状态可修改；已执行的条目应通过变体派生新条目。
outputs 与 execution.completed_at 当且仅当处于终态时存在。

# 核心类型

  - Entry：条目记录（输入、输出、执行信息、产物引用）
  - Status：状态枚举与 CanTransition 迁移表
  - Store：持久化接口，Update 提供按状态的条件更新（CAS）
  - MemoryStore：进程内实现

# 辅助函数

  - MergeInputs：顶层合并，两侧均为 map 的键再合并一层，用于变体
*/
package entry
