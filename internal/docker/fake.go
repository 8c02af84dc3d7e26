package docker

import (
	"context"
	"io"
	"sync"
)

// FakeManager is an in-memory Manager for tests. Each operation records
// its arguments and then delegates to the matching Func field when set;
// otherwise it succeeds immediately.
//
// Example:
//
//	fake := &docker.FakeManager{
//	    UpFunc: func(ctx context.Context, s docker.Stack) (*docker.Result, error) {
//	        return &docker.Result{Success: true}, nil
//	    },
//	}
type FakeManager struct {
	UpFunc      func(context.Context, Stack) (*Result, error)
	DownFunc    func(context.Context, Stack) (*Result, error)
	StatusFunc  func(context.Context, Stack) ([]ServiceState, error)
	LogsFunc    func(context.Context, Stack, LogsOptions, io.Writer) error
	ExecuteFunc func(context.Context, ExecSpec, Sink) (*Result, error)

	mu           sync.Mutex
	upCalls      []Stack
	downCalls    []Stack
	executeCalls []ExecSpec
}

var _ Manager = (*FakeManager)(nil)

// Up implements Manager.
func (f *FakeManager) Up(ctx context.Context, stack Stack) (*Result, error) {
	f.mu.Lock()
	f.upCalls = append(f.upCalls, stack)
	f.mu.Unlock()

	if f.UpFunc != nil {
		return f.UpFunc(ctx, stack)
	}
	return &Result{Success: true, Command: "docker compose up -d"}, nil
}

// Down implements Manager.
func (f *FakeManager) Down(ctx context.Context, stack Stack) (*Result, error) {
	f.mu.Lock()
	f.downCalls = append(f.downCalls, stack)
	f.mu.Unlock()

	if f.DownFunc != nil {
		return f.DownFunc(ctx, stack)
	}
	return &Result{Success: true, Command: "docker compose down"}, nil
}

// Status implements Manager.
func (f *FakeManager) Status(ctx context.Context, stack Stack) ([]ServiceState, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx, stack)
	}
	return []ServiceState{}, nil
}

// Logs implements Manager.
func (f *FakeManager) Logs(ctx context.Context, stack Stack, opts LogsOptions, w io.Writer) error {
	if f.LogsFunc != nil {
		return f.LogsFunc(ctx, stack, opts, w)
	}
	return nil
}

// Execute implements Manager.
func (f *FakeManager) Execute(ctx context.Context, spec ExecSpec, sink Sink) (*Result, error) {
	f.mu.Lock()
	f.executeCalls = append(f.executeCalls, spec)
	f.mu.Unlock()

	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(ctx, spec, sink)
	}
	return &Result{Success: true, Command: spec.Command}, nil
}

// UpCalls returns a copy of the stacks passed to Up, in call order.
func (f *FakeManager) UpCalls() []Stack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Stack(nil), f.upCalls...)
}

// DownCalls returns a copy of the stacks passed to Down, in call order.
func (f *FakeManager) DownCalls() []Stack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Stack(nil), f.downCalls...)
}

// ExecuteCalls returns a copy of the specs passed to Execute, in call order.
func (f *FakeManager) ExecuteCalls() []ExecSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecSpec(nil), f.executeCalls...)
}
