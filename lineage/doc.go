// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 lineage 维护实验条目之间的溯源有向无环图，并提供有界的祖先与
后代遍历。

# 概述

边为 (parent_id, child_id, relationship)，relationship 取
derives_from 或 variation_of。derives_from 子图必须保持无环：
插入前从 parent 向上遍历，若 child 已是 parent 的祖先则返回
CYCLE_DETECTED。检测与插入由图级互斥锁串行化。

遍历采用显式 frontier 队列与 visited 集合的迭代式 BFS，按深度由近
到远输出；同一深度内按条目创建时间升序，再按 ID 排序。

# 核心类型

  - Graph：AddEdge / Ancestors / Descendants / Edges
  - EdgeStore：边存储接口；MemoryEdgeStore 为进程内实现
  - NodeLookup：查询条目创建时间，同时用于判断条目是否存在
  - Node：遍历结果（ID 与深度）
*/
package lineage
