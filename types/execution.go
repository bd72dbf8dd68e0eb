package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/skillflow/internal/pool"
)

// ExecutionStatus 调用结果状态
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
	StatusTimeout ExecutionStatus = "timeout"
	StatusPartial ExecutionStatus = "partial"
)

// IsValid reports whether s is one of the known statuses.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusPartial:
		return true
	}
	return false
}

// IsError reports whether the status should be treated as an error outcome.
func (s ExecutionStatus) IsError() bool {
	return s == StatusFailure || s == StatusTimeout
}

// ExecutionRecord 单次技能调用记录，创建后不可变。
// 只保存参数哈希，原始参数永不落盘。
type ExecutionRecord struct {
	ID           string          `json:"id"`
	SkillID      string          `json:"skill_id"`
	SkillVersion string          `json:"skill_version,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       ExecutionStatus `json:"status"`
	DurationMs   float64         `json:"duration_ms"`
	Confidence   *float64        `json:"confidence,omitempty"`
	Error        string          `json:"error,omitempty"`
	FallbackUsed bool            `json:"fallback_used"`
	ArgsHash     string          `json:"args_hash"`
}

// ConfidenceOr returns the confidence score or def when none was reported.
func (r ExecutionRecord) ConfidenceOr(def float64) float64 {
	if r.Confidence == nil {
		return def
	}
	return *r.Confidence
}

// Float64 returns a pointer to v, handy for optional confidence values.
func Float64(v float64) *float64 {
	return &v
}

// HashArgs 计算参数的 SHA-256 哈希。
// encoding/json 对 map 键排序，因此相同参数总是得到相同哈希。
func HashArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	var data []byte
	if err := json.NewEncoder(buf).Encode(args); err != nil {
		// 不可序列化的参数退化为类型级摘要，仍不暴露原始值
		data = []byte(fmt.Sprintf("%T:%d", args, len(args)))
	} else {
		data = bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
