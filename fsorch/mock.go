package fsorch

import (
	"context"
	"sync"

	"darch/runner"
)

// MockScope is a test double for Executor, grounded on the teacher's
// MockEnvironment: it records every Execute call and returns a
// configurable canned result, so builder/gc logic can be tested without
// root privilege or a real btrfs filesystem.
type MockScope struct {
	mu sync.Mutex

	BasePath string

	BindMountCalls   []string
	MountKernelCalls []string
	UnmountCalls     []string
	MountError       error
	UnmountError     error

	ExecuteCalls  []runner.Command
	ExecuteResult *runner.Result
	ExecuteError  error

	CloseCalled bool
	CloseError  error
}

// NewMockScope creates a mock Executor reporting success by default.
func NewMockScope() *MockScope {
	return &MockScope{
		BasePath:      "/mock/gen-root",
		ExecuteResult: &runner.Result{ExitCode: 0},
	}
}

func (m *MockScope) Root() string { return m.BasePath }

// BindMount records the requested bind mount without touching the
// filesystem, so builder/gc logic can be exercised without root.
func (m *MockScope) BindMount(source, relTarget string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BindMountCalls = append(m.BindMountCalls, relTarget)
	return m.MountError
}

// MountKernel records the requested pseudo-filesystem mount without
// touching the filesystem.
func (m *MockScope) MountKernel(relTarget, fstype string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MountKernelCalls = append(m.MountKernelCalls, relTarget)
	return m.MountError
}

// Unmount records the requested unmount without touching the filesystem.
func (m *MockScope) Unmount(relTarget string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UnmountCalls = append(m.UnmountCalls, relTarget)
	return m.UnmountError
}

func (m *MockScope) Execute(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExecuteCalls = append(m.ExecuteCalls, cmd)

	select {
	case <-ctx.Done():
		return &runner.Result{ExitCode: -1}, ctx.Err()
	default:
	}

	if m.ExecuteResult != nil {
		result := *m.ExecuteResult
		return &result, m.ExecuteError
	}
	return &runner.Result{ExitCode: 0}, m.ExecuteError
}

func (m *MockScope) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return m.CloseError
}

// LastExecuteCall returns the most recent Execute call, or nil if none.
func (m *MockScope) LastExecuteCall() *runner.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ExecuteCalls) == 0 {
		return nil
	}
	return &m.ExecuteCalls[len(m.ExecuteCalls)-1]
}

// ExecuteCallCount reports how many times Execute was called.
func (m *MockScope) ExecuteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ExecuteCalls)
}
