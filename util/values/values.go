package values

// Response statuses shared by handlers and util.StatusCode.
const (
	Success        = "success"
	Created        = "created"
	Error          = "error"
	BadRequestBody = "bad_request_body"
	Unprocessable  = "unprocessable"
	NotAllowed     = "not_allowed"
	Conflict       = "conflict"
	NotFound       = "not_found"
	NotAuthorised  = "not_authorised"
	TokenExpired   = "token_expired"
)

const SystemErr = "something went wrong, please try again"

const (
	HeaderRequestSource = "X-Request-Source"
	HeaderRequestID     = "X-Request-ID"
)

type contextKey string

const (
	ContextTracingKey contextKey = "tracing"
	ContextUserKey    contextKey = "user_id"
	ContextRoleKey    contextKey = "role"
	ContextNameKey    contextKey = "display_name"
)
