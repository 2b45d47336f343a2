// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 TaskFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue，支持超时轮询等待条件满足
  - ScriptedRunner: 可编排的步骤执行器模拟，支持按动作注入失败次数、
    自定义处理函数、调用计数与并发峰值统计

# 使用示例

	runner := testutil.NewScriptedRunner()
	runner.FailTimes("flaky", 2, errors.New("transient"))
	out, err := runner.Execute(ctx, "step_a", "flaky", nil)
*/
package testutil
