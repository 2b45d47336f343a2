// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package main 是 taskflow 的命令行入口。

支持的命令：

  - serve: 启动编排服务（调度循环 + 指标端点 + 快照持久化）
  - validate: 校验工作流定义 YAML 文件
  - version: 显示版本信息
  - health: 对运行中的服务做健康检查
*/
package main
