package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/betbot/robinhood/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器。回调按注册的逆序依次执行，后打开的资源先关闭。
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
	err       error
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用）。只有第一次调用生效，之后返回同一结果。
// ctx 应该是一个带超时的 context；超时后剩余回调不再执行。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.err = m.run(ctx)
	})
	return m.err
}

func (m *Manager) run(ctx context.Context) error {
	m.mu.Lock()
	callbacks := make([]namedHandler, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	log := logger.Component("shutdown")
	if len(callbacks) == 0 {
		log.Debug("no shutdown callbacks registered")
		return nil
	}
	log.Infof("shutting down %d component(s)", len(callbacks))

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := ctx.Err(); err != nil {
			log.Warnf("shutdown timed out before %s: %v", cb.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", cb.name, err))
			continue
		}
		if err := cb.fn(ctx); err != nil {
			log.WithError(err).Warnf("shutdown of %s failed", cb.name)
			errs = append(errs, fmt.Errorf("%s: %w", cb.name, err))
			continue
		}
		log.Debugf("%s closed", cb.name)
	}
	return errors.Join(errs...)
}
