package skills

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Registry 技能注册表。写操作串行化并发布新的快照，读操作直接读取快照，不加锁。
type Registry struct {
	mu        sync.Mutex
	snapshot  atomic.Pointer[map[string]*Skill]
	validator *DependencyValidator
	logger    *zap.Logger
}

// NewRegistry creates a registry gated by validator. A nil validator gets a fresh one.
func NewRegistry(validator *DependencyValidator, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewDependencyValidator(logger)
	}
	r := &Registry{
		validator: validator,
		logger:    logger.With(zap.String("component", "skill_registry")),
	}
	empty := make(map[string]*Skill)
	r.snapshot.Store(&empty)
	return r
}

// Validator returns the dependency validator gating this registry.
func (r *Registry) Validator() *DependencyValidator { return r.validator }

func (r *Registry) current() map[string]*Skill {
	return *r.snapshot.Load()
}

func (r *Registry) has(id string) bool {
	_, ok := r.current()[id]
	return ok
}

// publish 复制当前快照，应用 mutate 后原子发布。调用方持有 r.mu。
func (r *Registry) publish(mutate func(next map[string]*Skill)) {
	cur := r.current()
	next := make(map[string]*Skill, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	mutate(next)
	r.snapshot.Store(&next)
}

// Register 注册技能。ID 重复、依赖成环或依赖未注册时拒绝，已注册技能不受影响。
func (r *Registry) Register(skill *Skill) error {
	id := skill.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.has(id) {
		return duplicateError(id)
	}
	if err := r.validator.Admit(skill.Descriptor, r.has); err != nil {
		return err
	}

	if skill.LoadedAt.IsZero() {
		skill.LoadedAt = time.Now()
	}
	skill.Descriptor.RegisteredAt = time.Now()
	r.publish(func(next map[string]*Skill) { next[id] = skill })

	r.logger.Info("skill registered",
		zap.String("skill_id", id),
		zap.String("version", skill.Descriptor.Version),
		zap.Strings("depends_on", skill.Descriptor.DependsOn),
	)
	return nil
}

// Replace 原子替换已注册技能，返回旧句柄。新依赖同样经过准入校验。
func (r *Registry) Replace(skill *Skill) (*Skill, error) {
	id := skill.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.current()[id]
	if !ok {
		return nil, notFoundError(id)
	}
	if err := r.validator.Admit(skill.Descriptor, r.has); err != nil {
		return nil, err
	}

	skill.Descriptor.RegisteredAt = time.Now()
	r.publish(func(next map[string]*Skill) { next[id] = skill })

	r.logger.Info("skill replaced",
		zap.String("skill_id", id),
		zap.String("old_version", old.Descriptor.Version),
		zap.String("new_version", skill.Descriptor.Version),
	)
	return old, nil
}

// Unregister 注销技能，返回是否存在。
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.has(id) {
		return false
	}
	r.publish(func(next map[string]*Skill) { delete(next, id) })
	r.validator.Release(id)

	if dependents := r.validator.Dependents(id); len(dependents) > 0 {
		r.logger.Warn("unregistered skill still has dependents",
			zap.String("skill_id", id),
			zap.Strings("dependents", dependents),
		)
	}
	r.logger.Info("skill unregistered", zap.String("skill_id", id))
	return true
}

// Get 按 ID 获取技能
func (r *Registry) Get(id string) (*Skill, bool) {
	s, ok := r.current()[id]
	return s, ok
}

// List returns all skills ordered by id.
func (r *Registry) List() []*Skill {
	cur := r.current()
	out := make([]*Skill, 0, len(cur))
	for _, s := range cur {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ListByCategory returns the skills of one category ordered by id.
func (r *Registry) ListByCategory(category string) []*Skill {
	var out []*Skill
	for _, s := range r.List() {
		if s.Descriptor.Category == category {
			out = append(out, s)
		}
	}
	return out
}

// Count 返回已注册技能数
func (r *Registry) Count() int {
	return len(r.current())
}
