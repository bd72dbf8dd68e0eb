package inventory

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/skillflow/types"
)

// =============================================================================
// 🗂️ 版本快照
// =============================================================================

// SaveVersion 追加一个版本快照
func (s *Store) SaveVersion(ctx context.Context, v types.SkillVersion) error {
	if v.ID == "" || v.SkillID == "" {
		return fmt.Errorf("%w: version needs id and skill id", ErrInvalidInput)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	model, err := versionFromRecord(v)
	if err != nil {
		return err
	}
	return s.write(ctx, "save_version", func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	})
}

// GetVersion 返回技能的指定版本
func (s *Store) GetVersion(ctx context.Context, skillID, versionID string) (types.SkillVersion, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return types.SkillVersion{}, err
	}
	var models []versionModel
	if err := db.Where("skill_id = ? AND id = ?", skillID, versionID).Limit(1).Find(&models).Error; err != nil {
		return types.SkillVersion{}, storeError("get version", err)
	}
	if len(models) == 0 {
		return types.SkillVersion{}, versionNotFoundError(skillID, versionID)
	}
	return models[0].record()
}

// ListVersions 返回技能的全部版本（新在前）。ULID 按时间有序，作为同一时刻的次序键
func (s *Store) ListVersions(ctx context.Context, skillID string) ([]types.SkillVersion, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}
	var models []versionModel
	if err := db.Where("skill_id = ?", skillID).Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, storeError("list versions", err)
	}
	out := make([]types.SkillVersion, 0, len(models))
	for _, m := range models {
		v, err := m.record()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// =============================================================================
// 🧪 灰度实验
// =============================================================================

// SaveABTest 创建或更新灰度实验配置
func (s *Store) SaveABTest(ctx context.Context, c types.ABTestConfig) error {
	if c.ID == "" || c.SkillID == "" {
		return fmt.Errorf("%w: ab test needs id and skill id", ErrInvalidInput)
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	model := abTestFromConfig(c)
	return s.write(ctx, "save_ab_test", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"variant_a", "variant_b", "rollout", "status", "winner", "updated_at"}),
		}).Create(&model).Error
	})
}

// GetABTest 按 ID 返回灰度实验
func (s *Store) GetABTest(ctx context.Context, id string) (types.ABTestConfig, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return types.ABTestConfig{}, err
	}
	var models []abTestModel
	if err := db.Where("id = ?", id).Limit(1).Find(&models).Error; err != nil {
		return types.ABTestConfig{}, storeError("get ab test", err)
	}
	if len(models) == 0 {
		return types.ABTestConfig{}, types.NewError(types.ErrTestNotFound, "ab test "+id+" not found").WithCause(ErrTestNotFound)
	}
	return models[0].config(), nil
}

// ListABTests 返回灰度实验（新在前）。skillID 为空时返回全部；status 为空时不过滤
func (s *Store) ListABTests(ctx context.Context, skillID string, status types.ABTestStatus) ([]types.ABTestConfig, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&abTestModel{}).Order("created_at DESC").Order("id")
	if skillID != "" {
		q = q.Where("skill_id = ?", skillID)
	}
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var models []abTestModel
	if err := q.Find(&models).Error; err != nil {
		return nil, storeError("list ab tests", err)
	}
	out := make([]types.ABTestConfig, len(models))
	for i, m := range models {
		out[i] = m.config()
	}
	return out, nil
}
