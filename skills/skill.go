package skills

import (
	"context"
	"time"

	"github.com/BaSui01/skillflow/types"
)

// Handler 技能调用函数：键值参数进，键值结果出。
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Skill 已解析、可调用的技能句柄。替换时整体换新，不原地修改。
type Skill struct {
	Descriptor types.SkillDescriptor
	Handler    Handler
	SourceHash string
	LoadedAt   time.Time
}

// NewSkill builds an in-memory skill that has no backing manifest.
func NewSkill(desc types.SkillDescriptor, handler Handler) *Skill {
	return &Skill{
		Descriptor: desc,
		Handler:    handler,
		LoadedAt:   time.Now(),
	}
}

// ID returns the skill identifier.
func (s *Skill) ID() string { return s.Descriptor.ID }

// Invoke 调用处理器
func (s *Skill) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	if s.Handler == nil {
		return nil, types.NewError(types.ErrHandlerNotFound, "skill has no handler").
			WithSkill(s.Descriptor.ID).WithCause(ErrHandlerNotFound)
	}
	ctx = types.WithSkillID(ctx, s.Descriptor.ID)
	return s.Handler(ctx, args)
}
