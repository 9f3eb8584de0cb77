package version

// Current defines the application version.
// It defaults to "dev" but is overwritten by the Makefile using -ldflags.
var Current = "dev"

// AppName is used in headers, user agents and telemetry.
const AppName = "codevet"

// UserAgent identifies outbound HTTP calls.
func UserAgent() string {
	return AppName + "/" + Current
}
