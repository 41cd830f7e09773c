// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，支持
postgres、mysql 与 sqlite（modernc 纯 Go 驱动）三种方言。

# 概述

Open 根据 config.DatabaseConfig 选择方言并建立连接；PoolManager
封装 GORM 与 database/sql 的连接池配置，统一管理连接生命周期、
后台健康检查与事务重试。持久化层（persistence 包）的 SQL 存储
以及数据库迁移均通过本包获取连接。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：连接池配置，含最大空闲/打开连接数、生命周期、健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：Dialector / SQLiteDialector，sqlite 默认开启外键与 busy_timeout。
  - 健康检查：后台定时探活，并把连接数上报给 metrics.Collector。
  - 事务管理：WithTransaction 与带指数退避的 WithTransactionRetry。
*/
package database
