package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the assessment job ID
	FieldJobID = "job_id"

	// FieldCustomerID is the customer ID the work is scoped to
	FieldCustomerID = "customer_id"

	// FieldConnectionID is the cloud connection (tenant) ID
	FieldConnectionID = "connection_id"

	// FieldModule is the audit module code
	FieldModule = "module"

	// FieldComponent is the component/subsystem name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
