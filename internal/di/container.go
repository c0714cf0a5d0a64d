package di

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/dig"

	"github.com/aihub/docqa/internal/config"
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

// Build 初始化全局容器并注册所有提供者；ctx 为后台摄取任务的父context
func Build(ctx context.Context, cfg *config.Config) (*dig.Container, error) {
	container := InitContainer()
	if err := RegisterProviders(ctx, container, cfg); err != nil {
		return nil, err
	}
	return container, nil
}

// Cleanup 进程退出时按注册的逆序释放外部连接
type Cleanup struct {
	mu  sync.Mutex
	fns []func() error
}

// Add 注册释放函数
func (c *Cleanup) Add(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

// Run 执行所有释放函数
func (c *Cleanup) Run() error {
	c.mu.Lock()
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
