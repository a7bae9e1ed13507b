package logger

import (
	"sync/atomic"

	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock implementing Logger. Expectations are set
// per level method with the message and the key-value slice:
//
//	m.On("Warn", "e1381: NAK received", mock.Anything)
//
// Level and SetLevel keep plain state and With returns the mock itself, so
// neither needs an expectation.
type MockLogger struct {
	mock.Mock

	level atomic.Int32
}

var _ Logger = (*MockLogger)(nil)

// NewMockLogger returns a mock at DebugLevel.
func NewMockLogger() *MockLogger {
	m := &MockLogger{}
	m.level.Store(int32(DebugLevel))

	return m
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.record("Debug", msg, keysAndValues) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.record("Info", msg, keysAndValues) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.record("Warn", msg, keysAndValues) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.record("Error", msg, keysAndValues) }
func (m *MockLogger) Fatal(msg string, keysAndValues ...any) { m.record("Fatal", msg, keysAndValues) }

func (m *MockLogger) With(...any) Logger { return m }

func (m *MockLogger) Level() LogLevel { return LogLevel(m.level.Load()) }

func (m *MockLogger) SetLevel(level LogLevel) { m.level.Store(int32(level)) }

func (m *MockLogger) record(method, msg string, keysAndValues []any) {
	m.MethodCalled(method, msg, keysAndValues)
}
