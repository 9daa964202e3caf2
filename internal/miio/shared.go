package miio

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Shared hands out one Client per device across the whole process. Each
// accessory acquires a handle; the socket is opened on the first acquisition
// and closed when the last handle is released.
type Shared struct {
	mu      sync.Mutex
	handles map[string]*sharedHandle
	logger  *zap.Logger
}

type sharedHandle struct {
	client Client
	refs   int
}

// NewShared creates an empty shared-client registry.
func NewShared(logger *zap.Logger) *Shared {
	return &Shared{
		handles: make(map[string]*sharedHandle),
		logger:  logger.Named("transport"),
	}
}

// Acquire returns a connected client for the device at host, creating and
// connecting it on first use.
func (s *Shared) Acquire(host, token string) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[host]; ok {
		h.refs++
		return h.client, nil
	}

	client, err := NewUDPClient(host, token, s.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", host, err)
	}

	s.handles[host] = &sharedHandle{client: client, refs: 1}
	s.logger.Info("Opened shared transport", zap.String("host", host))
	return client, nil
}

// Release drops one reference to the device's client, closing the socket
// when no references remain. Releasing an unknown host is a no-op.
func (s *Shared) Release(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[host]
	if !ok {
		return
	}
	h.refs--
	if h.refs > 0 {
		return
	}

	delete(s.handles, host)
	if err := h.client.Close(); err != nil {
		s.logger.Warn("Failed to close transport", zap.String("host", host), zap.Error(err))
		return
	}
	s.logger.Info("Closed shared transport", zap.String("host", host))
}
