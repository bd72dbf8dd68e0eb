package skills

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog 处理器目录：清单中的 handler 名称在此解析为已编译的 Handler。
type Catalog struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewCatalog creates an empty handler catalog.
func NewCatalog() *Catalog {
	return &Catalog{handlers: make(map[string]Handler)}
}

// Register 注册处理器，名称重复时报错。
func (c *Catalog) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("handler name is empty")
	}
	if h == nil {
		return fmt.Errorf("handler %q is nil", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[name]; ok {
		return fmt.Errorf("handler %q already registered", name)
	}
	c.handlers[name] = h
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Catalog) MustRegister(name string, h Handler) {
	if err := c.Register(name, h); err != nil {
		panic(err)
	}
}

// Lookup 按名称查找处理器
func (c *Catalog) Lookup(name string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[name]
	return h, ok
}

// Names returns the registered handler names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
