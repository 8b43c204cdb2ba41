package di

import (
	"sync"

	"go.uber.org/dig"
)

// Container 是依赖注入容器的全局实例
var Container *dig.Container

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// GetContainer 获取依赖注入容器实例
func GetContainer() *dig.Container {
	return Container
}

// Invoke 封装dig.Invoke，提供更友好的接口
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	return Container.Invoke(function, opts...)
}

// Provide 封装dig.Provide，提供更友好的接口
func Provide(constructor interface{}, opts ...dig.ProvideOption) error {
	return Container.Provide(constructor, opts...)
}

// Cleanup 按注册的逆序释放容器创建的资源
type Cleanup struct {
	mu    sync.Mutex
	funcs []func() error
}

// Add 注册释放函数
func (c *Cleanup) Add(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, fn)
}

// Run 执行全部释放函数，返回第一个错误
func (c *Cleanup) Run() error {
	c.mu.Lock()
	funcs := c.funcs
	c.funcs = nil
	c.mu.Unlock()

	var first error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
