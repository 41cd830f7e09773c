// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供实验记录本进程的运维 HTTP 端点。

# 概述

Exporter 封装 net/http.Server，暴露两个只读端点：

  - GET /metrics  Prometheus 指标（执行、blob、血缘、数据库）
  - GET /healthz  依次运行注册的健康检查（持久化、blob 根目录等），
    全部通过返回 200，否则 503 并列出失败项

Start 非阻塞；Run 阻塞直到 ctx 结束，随后在 ShutdownTimeout 内
优雅关闭。
*/
package server
