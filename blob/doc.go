// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 blob 提供内容寻址的二进制对象存储，负责实验产物的去重落盘、
完整性校验与缩略图派生。

# 概述

对象以 SHA-256 摘要（"sha256:<hex>"）为主键，文件按摘要前缀两级分桶
存放在 <root>/blobs/<hex[0:2]>/<hex[2:4]>/<hex>。写入先落临时文件再
rename，读者只会看到完整对象或 NOT_FOUND。同一摘要的并发写入经
singleflight 合并，只写一次。

# 核心类型

  - Store：Put / PutObject / Get / Stat / DeriveThumbnail / Thumbnail
  - Index：对象索引接口（摘要 → 路径、大小、媒体类型、缩略图）
  - MemoryIndex：进程内索引实现
  - Object：索引记录

# 失败语义

  - 读取时摘要不符或索引存在但文件缺失返回 INTEGRITY_FAILURE
  - 底层 I/O 错误返回 STORAGE_FAILURE，不可透明重试
  - 非图片或无法解码的图片不生成缩略图，也不报错
*/
package blob
