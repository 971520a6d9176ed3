package config

// SourceKind selects the connector that fetches a source
type SourceKind string

const (
	// SourceKindCRM queries a CRM object store over its REST API
	SourceKindCRM SourceKind = "crm"
	// SourceKindSQL selects rows from a relational table
	SourceKindSQL SourceKind = "sql"
	// SourceKindCSV reads a local CSV file
	SourceKindCSV SourceKind = "csv"
)

// IsValid checks if the source kind is valid
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceKindCRM, SourceKindSQL, SourceKindCSV:
		return true
	default:
		return false
	}
}

// LogFormat selects the slog handler used by the CLI
type LogFormat string

const (
	// LogFormatText uses slog.TextHandler
	LogFormatText LogFormat = "text"
	// LogFormatJSON uses slog.JSONHandler
	LogFormatJSON LogFormat = "json"
)

// IsValid checks if the log format is valid
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}
