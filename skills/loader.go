package skills

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/types"
)

type loaderEntry struct {
	hash  string
	skill *Skill
}

// Loader 解析清单并构造技能句柄，按路径缓存；内容哈希不变时复用缓存。
type Loader struct {
	catalog *Catalog
	mu      sync.Mutex
	cache   map[string]loaderEntry
	logger  *zap.Logger
}

// NewLoader creates a loader resolving handlers from catalog.
func NewLoader(catalog *Catalog, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Loader{
		catalog: catalog,
		cache:   make(map[string]loaderEntry),
		logger:  logger.With(zap.String("component", "skill_loader")),
	}
}

// Catalog returns the handler catalog.
func (l *Loader) Catalog() *Catalog { return l.catalog }

// ResolvePath 将技能目录或清单路径统一为清单文件的绝对路径。
func ResolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return abs, nil
	}
	manifest, ok := FindManifest(abs)
	if !ok {
		return "", fmt.Errorf("%w: no %s, %s or %s in %s", ErrInvalidManifest, ManifestYAML, ManifestYML, ManifestJSON, abs)
	}
	return manifest, nil
}

// Load 加载清单，构造新的技能句柄
func (l *Loader) Load(path string) (*Skill, error) {
	manifestPath, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	hash := ContentHash(data)

	l.mu.Lock()
	if entry, ok := l.cache[manifestPath]; ok && entry.hash == hash {
		l.mu.Unlock()
		return entry.skill, nil
	}
	l.mu.Unlock()

	m, err := ParseManifest(manifestPath, data)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidManifest, "cannot parse manifest").WithCause(err)
	}
	handler, ok := l.catalog.Lookup(m.Handler)
	if !ok {
		return nil, types.NewError(types.ErrHandlerNotFound, fmt.Sprintf("handler %q is not in the catalog", m.Handler)).
			WithSkill(m.ID).WithCause(ErrHandlerNotFound)
	}

	skill := &Skill{
		Descriptor: m.Descriptor(manifestPath),
		Handler:    handler,
		SourceHash: hash,
		LoadedAt:   time.Now(),
	}

	l.mu.Lock()
	l.cache[manifestPath] = loaderEntry{hash: hash, skill: skill}
	l.mu.Unlock()

	l.logger.Debug("skill manifest loaded",
		zap.String("skill_id", m.ID),
		zap.String("path", manifestPath),
		zap.String("handler", m.Handler),
	)
	return skill, nil
}

// Invalidate drops the cached handle for a manifest path.
func (l *Loader) Invalidate(path string) {
	manifestPath, err := filepath.Abs(path)
	if err != nil {
		manifestPath = path
	}
	l.mu.Lock()
	delete(l.cache, manifestPath)
	l.mu.Unlock()
}

// InvalidateSkill 清除某个技能的所有缓存条目
func (l *Loader) InvalidateSkill(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for path, entry := range l.cache {
		if entry.skill.ID() == id {
			delete(l.cache, path)
		}
	}
}

// Scan 递归扫描目录下的清单文件。单个清单失败不影响其它清单，失败按路径返回。
func (l *Loader) Scan(dir string) ([]*Skill, map[string]error, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("scan %s: not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsManifestFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	failures := make(map[string]error)
	seen := make(map[string]string)
	var loaded []*Skill
	for _, p := range paths {
		skill, err := l.Load(p)
		if err != nil {
			failures[p] = err
			l.logger.Warn("skip invalid skill manifest", zap.String("path", p), zap.Error(err))
			continue
		}
		if first, dup := seen[skill.ID()]; dup {
			failures[p] = fmt.Errorf("%w: %s also declared in %s", ErrDuplicateSkill, skill.ID(), first)
			continue
		}
		seen[skill.ID()] = p
		loaded = append(loaded, skill)
	}

	l.logger.Info("skill directory scanned",
		zap.String("dir", dir),
		zap.Int("loaded", len(loaded)),
		zap.Int("failed", len(failures)),
	)
	return loaded, failures, nil
}
