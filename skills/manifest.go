package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/skillflow/types"
)

// 清单文件名，按优先级排列
const (
	ManifestYAML = "SKILL.yaml"
	ManifestYML  = "SKILL.yml"
	ManifestJSON = "SKILL.json"
)

var manifestNames = []string{ManifestYAML, ManifestYML, ManifestJSON}

// Manifest 技能清单文件
type Manifest struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string   `json:"version" yaml:"version"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Handler     string   `json:"handler" yaml:"handler"`
	Requires    []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// IsManifestFile reports whether path names a skill manifest.
func IsManifestFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range manifestNames {
		if base == name {
			return true
		}
	}
	return false
}

// FindManifest 返回目录中的清单路径
func FindManifest(dir string) (string, bool) {
	for _, name := range manifestNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// ParseManifest 按文件扩展名解析清单内容并校验。
func ParseManifest(path string, data []byte) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported manifest format %q", ErrInvalidManifest, filepath.Ext(path))
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// ReadManifest reads and parses the manifest at path, returning the raw bytes too.
func ReadManifest(path string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(path, data)
	if err != nil {
		return nil, data, err
	}
	return m, data, nil
}

// Validate 校验清单必填字段、版本号与依赖声明。
func (m *Manifest) Validate() error {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidManifest)
	}
	if strings.ContainsAny(m.ID, " \t\n/") {
		return fmt.Errorf("%w: id %q contains whitespace or '/'", ErrInvalidManifest, m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = m.ID
	}
	if strings.TrimSpace(m.Handler) == "" {
		return fmt.Errorf("%w: handler is required", ErrInvalidManifest)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidManifest)
	}
	if !semver.IsValid(canonicalVersion(m.Version)) {
		return fmt.Errorf("%w: version %q is not a semantic version", ErrInvalidManifest, m.Version)
	}
	seen := make(map[string]struct{}, len(m.DependsOn))
	deps := m.DependsOn[:0]
	for _, dep := range m.DependsOn {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			return fmt.Errorf("%w: empty entry in depends_on", ErrInvalidManifest)
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		deps = append(deps, dep)
	}
	m.DependsOn = deps
	return nil
}

// Descriptor converts the manifest into a descriptor located at path.
func (m *Manifest) Descriptor(path string) types.SkillDescriptor {
	return types.SkillDescriptor{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Version:     m.Version,
		Category:    m.Category,
		Tags:        append([]string(nil), m.Tags...),
		FilePath:    path,
		Handler:     m.Handler,
		Requires:    append([]string(nil), m.Requires...),
		DependsOn:   append([]string(nil), m.DependsOn...),
	}
}

// CompareVersions compares two manifest versions like semver.Compare.
func CompareVersions(a, b string) int {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b))
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// ContentHash 返回内容的 SHA-256 十六进制摘要
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
