// FakeBackend 是集成后端的测试替身。
//
// 基于 testify/mock 记录调用并按预设返回结果，可注入阻塞与 panic。
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/BaSui01/labnotebook/integration"
)

// FakeBackend implements integration.Backend and integration.Validator.
type FakeBackend struct {
	mock.Mock

	// Gate, when set, blocks Execute until it is closed or ctx is done.
	Gate chan struct{}
	// Started receives one value each time Execute is entered.
	Started chan struct{}
	// ValidateErr is returned by Validate.
	ValidateErr error
}

// NewFakeBackend 创建 FakeBackend
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

// WithGate 让 Execute 阻塞直到 gate 关闭
func (f *FakeBackend) WithGate(gate chan struct{}) *FakeBackend {
	f.Gate = gate
	f.Started = make(chan struct{}, 16)
	return f
}

// Execute 返回预设结果；返回值可以是 *integration.Result 或 func(map[string]any) *integration.Result
func (f *FakeBackend) Execute(ctx context.Context, inputs map[string]any) (*integration.Result, error) {
	if f.Started != nil {
		f.Started <- struct{}{}
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	args := f.Called(ctx, inputs)
	var res *integration.Result
	switch v := args.Get(0).(type) {
	case *integration.Result:
		res = v
	case func(map[string]any) *integration.Result:
		res = v(inputs)
	}
	return res, args.Error(1)
}

// Validate 返回 ValidateErr
func (f *FakeBackend) Validate(map[string]any) error {
	return f.ValidateErr
}

// PanicBackend 在 Execute 中 panic
type PanicBackend struct {
	Value any
}

// Execute panics with p.Value.
func (p PanicBackend) Execute(context.Context, map[string]any) (*integration.Result, error) {
	panic(p.Value)
}
