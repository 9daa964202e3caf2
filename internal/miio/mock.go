package miio

import (
	"sync"
)

// SentCommand records one Send call for test assertions.
type SentCommand struct {
	Method string
	Params []any
}

// MockClient implements Client for testing. Property values are seeded with
// SetProperty; set commands are recorded and common ones are applied back to
// the property map so polled state follows issued commands.
type MockClient struct {
	mu          sync.Mutex
	connected   bool
	props       map[string]any
	readCalls   [][]string
	sent        []SentCommand
	readErr     error
	truncate    bool
	methodErrs  map[string]error
	applyWrites bool
}

// NewMockClient creates a mock with an empty property map. Writes are
// applied to properties by default.
func NewMockClient() *MockClient {
	return &MockClient{
		props:       make(map[string]any),
		methodErrs:  make(map[string]error),
		applyWrites: true,
	}
}

// SetProperty seeds the value returned for key.
func (m *MockClient) SetProperty(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[key] = value
}

// FailReads makes every GetProperties call return err. Pass nil to clear.
func (m *MockClient) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// TruncateReads makes GetProperties drop the last value of each response,
// simulating a short chunk.
func (m *MockClient) TruncateReads(truncate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncate = truncate
}

// FailMethod makes Send return err for the given method. Pass nil to clear.
func (m *MockClient) FailMethod(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.methodErrs, method)
		return
	}
	m.methodErrs[method] = err
}

// ReadCalls returns the key lists of every GetProperties call.
func (m *MockClient) ReadCalls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([][]string, len(m.readCalls))
	copy(calls, m.readCalls)
	return calls
}

// Sent returns every recorded Send call.
func (m *MockClient) Sent() []SentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	sent := make([]SentCommand, len(m.sent))
	copy(sent, m.sent)
	return sent
}

// ClearSent discards the recorded Send calls.
func (m *MockClient) ClearSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// Connect marks the mock connected.
func (m *MockClient) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close marks the mock disconnected.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected reports the mock connection state.
func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// GetProperties returns the seeded value for each key, nil for unseeded keys.
func (m *MockClient) GetProperties(keys []string) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = append(m.readCalls, append([]string(nil), keys...))
	if m.readErr != nil {
		return nil, m.readErr
	}

	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = m.props[k]
	}
	if m.truncate && len(values) > 0 {
		values = values[:len(values)-1]
	}
	return values, nil
}

// Send records the command and, for the common set methods, applies the
// written value back to the property map.
func (m *MockClient) Send(method string, params []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, SentCommand{Method: method, Params: append([]any(nil), params...)})
	if err, ok := m.methodErrs[method]; ok {
		return err
	}
	if !m.applyWrites || len(params) == 0 {
		return nil
	}

	switch method {
	case "set_power":
		m.props["power"] = params[0]
	case "set_mode":
		m.props["mode"] = params[0]
	case "set_level_favorite":
		m.props["favorite_level"] = toFloat(params[0])
	case "set_led":
		m.props["led"] = params[0]
	case "set_buzzer":
		m.props["buzzer"] = params[0]
	case "set_child_lock":
		m.props["child_lock"] = params[0]
	}
	return nil
}

func toFloat(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return v
	}
}

var _ Client = (*MockClient)(nil)
