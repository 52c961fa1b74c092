package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Principal & Runner authentication errors
// 12000-12999: Problem module errors
// 13000-13999: Solution & Task module errors
// 14000-14999: Contest & Ranklist module errors
// 15000-15999: Instance module errors
// 16000-16999: Permission errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	Conflict            ErrorCode = 10009
	PreconditionFailed  ErrorCode = 10010

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303
	UnknownField       ErrorCode = 10304

	// Storage errors (10400-10499)
	StorageError         ErrorCode = 10400
	StorageNotConfigured ErrorCode = 10401

	// ========== Authentication Errors (11000-11999) ==========

	// Principal tokens (11000-11099)
	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// Runners (11100-11199)
	RunnerNotFound           ErrorCode = 11100
	RunnerKeyInvalid         ErrorCode = 11101
	RunnerRegistrationDenied ErrorCode = 11102

	// ========== Problem Module Errors (12000-12999) ==========

	ProblemNotFound    ErrorCode = 12000
	ProblemDataMissing ErrorCode = 12001

	// ========== Solution & Task Errors (13000-13999) ==========

	// Solution (13000-13099)
	SolutionNotFound     ErrorCode = 13000
	SolutionCreateFailed ErrorCode = 13001
	SolutionNotCreated   ErrorCode = 13002

	// Task claim (13100-13199)
	TaskConflict    ErrorCode = 13100
	LabelNotAllowed ErrorCode = 13101

	// ========== Contest Module Errors (14000-14999) ==========

	// Contest basic (14000-14099)
	ContestNotFound ErrorCode = 14000
	InvalidStages   ErrorCode = 14001

	// Ranklist (14200-14299)
	RanklistTaskConflict ErrorCode = 14200

	// ========== Instance Module Errors (15000-15999) ==========

	InstanceNotFound         ErrorCode = 15000
	InstanceAlreadyExists    ErrorCode = 15001
	InstanceTransitionDenied ErrorCode = 15002

	// ========== Permission Errors (16000-16999) ==========

	PermissionDenied       ErrorCode = 16000
	InsufficientPermission ErrorCode = 16001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	Conflict:            "Resource state changed concurrently",
	PreconditionFailed:  "Precondition failed",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",
	UnknownField:       "Unknown field in request body",

	StorageError:         "Object storage operation failed",
	StorageNotConfigured: "Object storage is not configured",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	RunnerNotFound:           "Runner not found",
	RunnerKeyInvalid:         "Invalid runner credentials",
	RunnerRegistrationDenied: "Runner registration denied",

	ProblemNotFound:    "Problem not found",
	ProblemDataMissing: "Problem data is not available",

	SolutionNotFound:     "Solution not found",
	SolutionCreateFailed: "Failed to create solution",
	SolutionNotCreated:   "Solution is not in created state",

	TaskConflict:    "Task is no longer held by this runner",
	LabelNotAllowed: "Runner label is not allowed for this task kind",

	ContestNotFound: "Contest not found",
	InvalidStages:   "Invalid contest stages",

	RanklistTaskConflict: "Ranklist task is no longer held by this runner",

	InstanceNotFound:         "Instance not found",
	InstanceAlreadyExists:    "An active instance already exists",
	InstanceTransitionDenied: "Instance state does not allow this transition",

	PermissionDenied:       "Permission denied",
	InsufficientPermission: "Insufficient permission",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsConflict reports whether the code signals a lost race rather than a failure.
func (c ErrorCode) IsConflict() bool {
	switch c {
	case Conflict, TaskConflict, RanklistTaskConflict, InstanceTransitionDenied, InstanceAlreadyExists, RecordAlreadyExists:
		return true
	}
	return false
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c.IsConflict():
		return 409
	case c == PreconditionFailed, c == StorageNotConfigured, c == ProblemDataMissing, c == SolutionNotCreated:
		return 412
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid, c == RunnerKeyInvalid:
		return 401
	case c == Forbidden, c == LabelNotAllowed, c == RunnerRegistrationDenied, c >= 16000 && c < 16100:
		return 403
	case c == NotFound, c == RecordNotFound, c == RunnerNotFound, c == ProblemNotFound,
		c == SolutionNotFound, c == ContestNotFound, c == InstanceNotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400, c == InvalidStages:
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
