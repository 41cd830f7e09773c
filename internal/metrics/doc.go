// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
执行、Blob 存储、血缘与数据库四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。nil Collector 可以安全
传入各组件，此时所有记录方法为空操作。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 执行指标：按 entry_type/status 统计执行次数与耗时，运行中 Gauge，
    以及 created → running → completed/failed 的状态转换计数。
  - Blob 指标：写入次数（stored/deduplicated）、写入字节数、
    完整性校验失败次数、缩略图生成结果。
  - 血缘指标：按关系类型统计新增边，统计被拒绝的成环边。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram，
    按 database/operation 分组。
*/
package metrics
