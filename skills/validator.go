package skills

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/types"
)

// Dependencies 从清单中提取的依赖
type Dependencies struct {
	External []string `json:"external"`
	Skills   []string `json:"skills"`
}

// ValidationReport 技能校验报告
type ValidationReport struct {
	SkillID      string       `json:"skill_id"`
	Valid        bool         `json:"valid"`
	Errors       []string     `json:"errors"`
	Warnings     []string     `json:"warnings"`
	Dependencies Dependencies `json:"dependencies"`
}

// DependencyValidator 维护全局依赖图，技能进入 Registry 前由它准入。
type DependencyValidator struct {
	mu     sync.Mutex
	graph  *DependencyGraph
	logger *zap.Logger
}

// NewDependencyValidator creates a validator with an empty graph.
func NewDependencyValidator(logger *zap.Logger) *DependencyValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DependencyValidator{
		graph:  NewDependencyGraph(),
		logger: logger.With(zap.String("component", "dependency_validator")),
	}
}

// Extract 提取外部依赖与技能间依赖（去重、排序）。
func (v *DependencyValidator) Extract(desc types.SkillDescriptor) Dependencies {
	return Dependencies{
		External: uniqueSorted(desc.Requires),
		Skills:   uniqueSorted(desc.DependsOn),
	}
}

// Admit 将技能的边加入全局图并从该节点做环检测。
// 出现环或依赖未注册时回滚该节点的边并返回错误，图保持原状。
func (v *DependencyValidator) Admit(desc types.SkillDescriptor, registered func(id string) bool) error {
	deps := v.Extract(desc).Skills

	v.mu.Lock()
	defer v.mu.Unlock()

	prev, existed := v.graph.SetEdges(desc.ID, deps)
	rollback := func() {
		if existed {
			v.graph.SetEdges(desc.ID, prev)
		} else {
			v.graph.Remove(desc.ID)
		}
	}

	if cycle := v.graph.FindCycle(desc.ID); cycle != nil {
		rollback()
		v.logger.Warn("dependency cycle rejected",
			zap.String("skill_id", desc.ID),
			zap.Strings("cycle", cycle),
		)
		return cycleError(desc.ID, cycle)
	}

	var missing []string
	for _, dep := range deps {
		if !registered(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		rollback()
		return missingError(desc.ID, missing)
	}
	return nil
}

// Release 从图中移除节点
func (v *DependencyValidator) Release(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.graph.Remove(id)
}

// Dependents returns the registered skills that depend directly on id.
func (v *DependencyValidator) Dependents(id string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.graph.Dependents(id)
}

// TopologicalOrder returns the load order of every admitted skill.
func (v *DependencyValidator) TopologicalOrder() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.graph.TopologicalOrder()
}

// Check 在图的副本上演练准入，不修改全局状态。
func (v *DependencyValidator) Check(desc types.SkillDescriptor, registered func(id string) bool) ValidationReport {
	deps := v.Extract(desc)
	report := ValidationReport{
		SkillID:      desc.ID,
		Errors:       []string{},
		Warnings:     []string{},
		Dependencies: deps,
	}

	v.mu.Lock()
	trial := v.graph.Clone()
	v.mu.Unlock()

	trial.SetEdges(desc.ID, deps.Skills)
	if cycle := trial.FindCycle(desc.ID); cycle != nil {
		report.Errors = append(report.Errors, (&CycleError{Path: cycle}).Error())
	}
	for _, dep := range deps.Skills {
		if dep != desc.ID && !registered(dep) {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", ErrMissingDependency, dep))
		}
	}
	for _, req := range deps.External {
		if msg := checkRequirement(req); msg != "" {
			report.Warnings = append(report.Warnings, msg)
		}
	}
	if registered(desc.ID) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("skill %s is already registered; loading it will replace the active handler", desc.ID))
	}

	report.Valid = len(report.Errors) == 0
	return report
}

// PlanLoad 为一批候选技能计算加载顺序。
// 处于环中的候选被剔除并记录原因；其余按拓扑序返回，依赖缺失留给 Admit 判定。
func (v *DependencyValidator) PlanLoad(candidates []types.SkillDescriptor) (order []string, rejected map[string]error) {
	v.mu.Lock()
	trial := v.graph.Clone()
	v.mu.Unlock()

	rejected = make(map[string]error)
	ids := make(map[string]struct{}, len(candidates))
	for _, desc := range candidates {
		trial.SetEdges(desc.ID, v.Extract(desc).Skills)
		ids[desc.ID] = struct{}{}
	}

	for _, desc := range candidates {
		if _, done := rejected[desc.ID]; done {
			continue
		}
		cycle := trial.FindCycle(desc.ID)
		if cycle == nil {
			continue
		}
		for _, member := range cycle {
			if _, isCandidate := ids[member]; isCandidate {
				rejected[member] = cycleError(member, cycle)
			}
		}
	}
	for id := range rejected {
		trial.Remove(id)
	}

	all, err := trial.TopologicalOrder()
	if err != nil {
		// 剩余的环只涉及已注册节点，不影响候选
		v.logger.Warn("registered skills contain a cycle", zap.Error(err))
	}
	for _, id := range all {
		if _, isCandidate := ids[id]; isCandidate {
			order = append(order, id)
		}
	}
	return order, rejected
}

// checkRequirement 检查外部依赖：bin:<name> 查 PATH，env:<NAME> 查环境变量。
func checkRequirement(req string) string {
	kind, name, ok := strings.Cut(req, ":")
	if !ok {
		return ""
	}
	switch kind {
	case "bin":
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Sprintf("required binary %q not found in PATH", name)
		}
	case "env":
		if _, set := os.LookupEnv(name); !set {
			return fmt.Sprintf("required environment variable %s is not set", name)
		}
	}
	return ""
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
