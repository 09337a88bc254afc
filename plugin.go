package modbus

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Plugin extends a Client, typically by installing interceptors or by
// watching the connection.
type Plugin interface {
	// Name must return a unique plugin name.
	Name() string
	// Initialize is called once when the plugin is registered via Use.
	Initialize(*Client) error
}

// ConnectionPlugin is notified of connection transitions. Hooks run on the
// connection's goroutines and must not block. err is nil for an explicit
// Disconnect.
type ConnectionPlugin interface {
	Plugin
	OnConnected(*Client) error
	OnDisconnected(c *Client, err error) error
}

// pluginManager keeps plugin registration out of the Client struct.
type pluginManager struct {
	mu      sync.Mutex
	plugins map[string]Plugin
}

func (pm *pluginManager) use(c *Client, plugins ...Plugin) error {
	for _, p := range plugins {
		if p == nil {
			return fmt.Errorf("plugin is nil")
		}
		name := p.Name()
		if name == "" {
			return fmt.Errorf("plugin name cannot be empty")
		}

		// Reserve the name so concurrent Use calls cannot both register it.
		pm.mu.Lock()
		if pm.plugins == nil {
			pm.plugins = make(map[string]Plugin)
		}
		if _, exists := pm.plugins[name]; exists {
			pm.mu.Unlock()
			return fmt.Errorf("plugin %s already registered", name)
		}
		pm.plugins[name] = nil
		pm.mu.Unlock()

		if err := p.Initialize(c); err != nil {
			pm.mu.Lock()
			delete(pm.plugins, name)
			pm.mu.Unlock()
			return fmt.Errorf("initialize plugin %s: %w", name, err)
		}

		pm.mu.Lock()
		pm.plugins[name] = p
		pm.mu.Unlock()
	}

	return nil
}

// names lists the registered plugins, sorted.
func (pm *pluginManager) names() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]string, 0, len(pm.plugins))
	for name, p := range pm.plugins {
		if p != nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (pm *pluginManager) connectionPlugins() []ConnectionPlugin {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var out []ConnectionPlugin
	for _, p := range pm.plugins {
		if cp, ok := p.(ConnectionPlugin); ok {
			out = append(out, cp)
		}
	}
	return out
}

func (pm *pluginManager) notifyConnected(c *Client, logger *zap.Logger) {
	for _, p := range pm.connectionPlugins() {
		if err := p.OnConnected(c); err != nil {
			logger.Warn("plugin connect hook failed", zap.String("plugin", p.Name()), zap.Error(err))
		}
	}
}

func (pm *pluginManager) notifyDisconnected(c *Client, cause error, logger *zap.Logger) {
	for _, p := range pm.connectionPlugins() {
		if err := p.OnDisconnected(c, cause); err != nil {
			logger.Warn("plugin disconnect hook failed", zap.String("plugin", p.Name()), zap.Error(err))
		}
	}
}
