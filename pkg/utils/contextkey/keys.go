package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"
	OrgID     key = "org_id"
	RunnerID  key = "runner_id"
)

// String returns the field name used for the key in logs and gin contexts.
func (k key) String() string {
	return string(k)
}
