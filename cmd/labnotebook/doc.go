// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
labnotebook 是实验记录本引擎的命令行入口。

每次调用按 配置 → 日志 → 遥测 → 指标 → 持久化 → blob 存储 →
后端注册 → notebook.Service 的顺序组装组件，执行一个子命令后
排空执行池并关闭连接。输出统一为 JSON（artifact get 输出原始字节）。

内置条目类型：api_call、database_query、comfyui、graphql、custom。

退出码：0 成功；2 用法错误；3 NOT_FOUND；4 请求非法或条目类型未知；
5 状态冲突或成环；6 存储或完整性故障；1 其他错误。
*/
package main
