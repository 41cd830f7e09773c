// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 notebook 是实验记录本引擎对外暴露的服务层。

# 概述

Service 组合页面存储、Entry 存储、血缘图、集成注册表、集成变量、
Blob 存储与执行协调器，提供 create_entry、create_variation、
execute、get_lineage 以及产物存取等操作。持久化实现通过
Dependencies 注入，内存版本（MemoryPages 及各包的 Memory*）
用于测试与单进程场景，persistence 包提供 SQL 与 Redis 版本。

# 主要能力

  - 页面：CreatePage / GetPage / ListPages，Entry 创建时校验 page_id
  - Entry：创建时校验 entry_type 已注册、父 Entry 存在，并经后端
    Validator 校验合并集成变量后的输入
  - 变体：顶层合并输入覆盖（嵌套 map 合并一层），同时建立 derives_from 与 variation_of 边
  - 血缘：默认深度 3，最大 10，超出部分被截断
  - 产物：写入时尽力生成缩略图，读取时校验摘要
*/
package notebook
