package ports

import (
	"time"

	"dataset-export-service/internal/core/domain"
)

// ExportMetrics records export activity. Implementations must be safe for
// concurrent use.
type ExportMetrics interface {
	RecordBuild(format domain.ExportFormat, status string, duration time.Duration)
	RecordSkip(format domain.ExportFormat, kind domain.SkipKind)
	RecordCacheLookup(result string)
	RecordBytesStreamed(format domain.ExportFormat, source string, n int64)
}
