package constants

const AppName = "trove"

// header names injected by the fetch engine
const (
	HeaderAuthorization = "Authorization"
	HeaderUserAgent     = "User-Agent"

	BearerPrefix = "bearer "
)

// metric namespace
const (
	MetricNamespace = "tr"
	MetricSubsystem = "trove"
)
