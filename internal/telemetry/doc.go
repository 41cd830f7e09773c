// Package telemetry 负责初始化 OpenTelemetry SDK，为实验记录本的执行
// 协调器提供 TracerProvider 与 MeterProvider。未启用时保持全局 noop
// 实现，不连接任何外部服务。
package telemetry
