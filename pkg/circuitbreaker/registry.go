package circuitbreaker

import "sync"

// Registry 按操作标识管理熔断器。
// key 必须是调用方提供的稳定标识（如 "agent.extract"），
// 不能从函数值推导，否则结构相同的闭包会互相污染熔断状态。
type Registry struct {
	config   Config
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry 创建共享熔断器注册表
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get 返回指定 key 的熔断器，不存在则创建
func (r *Registry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cb = New(r.config)
		r.breakers[key] = cb
	}
	return cb
}

// Execute 在 key 对应的熔断器保护下执行 fn
func (r *Registry) Execute(key string, fn func() error) error {
	return r.Get(key).Execute(fn)
}
