package tools

// Result is the unified return type from tool execution: spec.md's
// ToolResult{content, is_error, status_code?, bytes?, duration_ms?, error_type?}.
type Result struct {
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
	StatusCode int    `json:"status_code,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
}

// ErrorTypePermissionDenied marks a non-retryable authorization failure (4.B.3).
const ErrorTypePermissionDenied = "permission_denied"

// ErrorTypePluginTemplate marks a plugin command template substitution failure (4.B.5).
const ErrorTypePluginTemplate = "plugin_template_error"

func Ok(content string) *Result { return &Result{Content: content} }

func Err(content string) *Result { return &Result{Content: content, IsError: true} }

func ErrTyped(content, errorType string) *Result {
	return &Result{Content: content, IsError: true, ErrorType: errorType}
}

func Denied(reason string) *Result {
	return &Result{Content: "Permission denied: " + reason, IsError: true, ErrorType: ErrorTypePermissionDenied}
}
