// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package persistence 为实验记录本提供可替换的持久化后端。

# 概述

notebook、entry、lineage、blob、integration 各自只定义存储接口与
内存实现。本包提供两种持久实现，并由 Open 按配置组装：

  - SQLStore  : 基于 GORM，支持 sqlite / postgres / mysql，表结构由
    internal/migration 维护
  - RedisStore: 基于 go-redis，JSON 值加 ZSET/SET 索引

# 并发

条目状态迁移是条件写入：SQL 使用 UPDATE ... WHERE status = ?，
Redis 使用 WATCH/MULTI 乐观重试。两者都保证同一条目只会被一个
调用方从 created 迁移到 running。

# 使用方式

	stores, err := persistence.Open(ctx, cfg, logger, collector)
	if err != nil { ... }
	defer stores.Close()
	svc, err := notebook.New(stores.Dependencies(registry, blobs), logger)
*/
package persistence
