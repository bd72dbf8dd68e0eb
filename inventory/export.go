package inventory

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/skillflow/types"
)

// 导出格式
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// ExportFilter 导出过滤条件
type ExportFilter struct {
	SkillID string
	Since   time.Time
	Limit   int
}

var csvHeader = []string{
	"id", "skill_id", "skill_version", "timestamp", "status",
	"duration_ms", "confidence", "error", "fallback_used", "args_hash",
}

// Export 按时间升序导出执行记录，返回写出的条数
func (s *Store) Export(ctx context.Context, w io.Writer, format string, filter ExportFilter) (int, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case FormatJSON, FormatJSONL, FormatCSV:
	default:
		return 0, fmt.Errorf("%w: %q (supported: json, jsonl, csv)", ErrUnknownFormat, format)
	}

	db, err := s.reader(ctx)
	if err != nil {
		return 0, err
	}
	q := db.Model(&executionModel{}).Order("timestamp").Order("id")
	if filter.SkillID != "" {
		q = q.Where("skill_id = ?", filter.SkillID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var models []executionModel
	if err := q.Find(&models).Error; err != nil {
		return 0, storeError("export executions", err)
	}
	records := make([]types.ExecutionRecord, len(models))
	for i, m := range models {
		records[i] = m.record()
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return len(records), enc.Encode(records)
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return 0, err
			}
		}
		return len(records), nil
	default:
		return len(records), writeCSV(w, records)
	}
}

func writeCSV(w io.Writer, records []types.ExecutionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		confidence := ""
		if r.Confidence != nil {
			confidence = strconv.FormatFloat(*r.Confidence, 'f', -1, 64)
		}
		row := []string{
			r.ID,
			r.SkillID,
			r.SkillVersion,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			string(r.Status),
			strconv.FormatFloat(r.DurationMs, 'f', -1, 64),
			confidence,
			r.Error,
			strconv.FormatBool(r.FallbackUsed),
			r.ArgsHash,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
