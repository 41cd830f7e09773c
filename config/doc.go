// Package config 提供实验记录本引擎的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（LABNOTEBOOK_ 前缀）的顺序叠加，
// 覆盖存储、持久化、执行池、集成后端、日志、遥测与指标。
package config
