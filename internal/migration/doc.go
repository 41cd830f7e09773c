// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理实验记录本的数据库 Schema 版本，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌，表结构覆盖 entries、
lineage_edges、blobs、pages 与 integration_variables。SQLite 使用
纯 Go 的 modernc.org/sqlite 驱动（驱动名 "sqlite"）。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/Steps/Force/Version/Status/Info/Close
  - Config：数据库类型、连接 URL、迁移表名与锁超时
  - DatabaseType：postgres / mysql / sqlite
  - MigrationStatus / MigrationInfo：迁移状态与摘要

# 辅助函数

  - NewMigratorFromDatabaseConfig / NewMigratorFromURL
  - ParseDatabaseType、BuildDatabaseURL、AvailableMigrations
*/
package migration
