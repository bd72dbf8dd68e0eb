package types

import "time"

// SkillDescriptor 描述一个技能的身份与源文件位置。
// ID 在注册后不可变，只能通过重新注册（热加载）整体替换。
type SkillDescriptor struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string   `json:"version" yaml:"version"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	FilePath    string   `json:"file_path,omitempty" yaml:"-"`

	// 清单扩展字段
	Handler   string   `json:"handler" yaml:"handler"`                           // 处理器目录中的名称
	Requires  []string `json:"requires,omitempty" yaml:"requires,omitempty"`     // 外部依赖
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"` // 技能间依赖

	RegisteredAt time.Time `json:"registered_at,omitempty" yaml:"-"`
}

// Clone 深拷贝描述符
func (d SkillDescriptor) Clone() SkillDescriptor {
	clone := d
	clone.Tags = append([]string(nil), d.Tags...)
	clone.Requires = append([]string(nil), d.Requires...)
	clone.DependsOn = append([]string(nil), d.DependsOn...)
	return clone
}
