// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供实验记录本测试的共享工具和辅助函数。

# 概述

testutil 为各包的单元测试提供统一的上下文、断言与等待工具，
避免重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertErrorCode
  - 异步断言: AssertEventuallyTrue / WaitForChannel
  - 时钟: StepClock 生成严格递增的时间，用于验证按创建时间排序

# 子包

  - testutil/mocks: FakeBackend，基于 testify/mock 的集成后端替身
  - testutil/fixtures: 图像与输入样例（PNG、JPEG、变体输入）

# 使用示例

	ctx := testutil.TestContext(t)
	backend := mocks.NewFakeBackend()
	backend.On("Execute", mock.Anything, mock.Anything).Return(result, nil)
*/
package testutil
