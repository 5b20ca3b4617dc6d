package tracing

import "fmt"

// Context identifies one request across log lines.
type Context struct {
	RequestID     string
	RequestSource string
	RequestPath   string
}

func (tc Context) String() string {
	return fmt.Sprintf("request_id=%s source=%s path=%s", tc.RequestID, tc.RequestSource, tc.RequestPath)
}
