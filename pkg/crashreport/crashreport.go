// Package crashreport provides error tracking and crash monitoring for the
// shuttle CLI. It captures errors, panics, and system metadata to help
// diagnose issues in production.
package crashreport

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/bugsnag/bugsnag-go/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shuttlefile/shuttle/internal/version"
	"github.com/shuttlefile/shuttle/pkg/config"
)

// Build-time variables that can be set via ldflags
// Example: go build -ldflags "-X github.com/shuttlefile/shuttle/pkg/crashreport.BugsnagAPIKey=your-key"
var (
	// BugsnagAPIKey is the API key for error reporting, injected at compile time.
	// If not set during build, error reporting will be disabled.
	BugsnagAPIKey = ""

	// DefaultReleaseStage defines the default environment for error reporting.
	DefaultReleaseStage = "prod"
)

var initialized bool
var enabled bool

// Initialize configures the error reporting client. It is idempotent. If
// BugsnagAPIKey is not set at compile time or telemetry is disabled, error
// reporting is silently disabled.
func Initialize() error {
	if initialized {
		return nil
	}

	// Check if telemetry is disabled by user
	cfg, _ := config.Load() // Ignore error - proceed with default behavior if config unavailable
	if cfg != nil && !cfg.IsTelemetryEnabled() {
		initialized = true
		enabled = false
		return nil
	}

	if BugsnagAPIKey == "" {
		initialized = true
		enabled = false
		return nil
	}

	apiKey := BugsnagAPIKey
	if envKey := os.Getenv("BUGSNAG_API_KEY"); envKey != "" {
		apiKey = envKey
	}

	releaseStage := os.Getenv("SHUTTLE_ENV")
	if releaseStage == "" {
		releaseStage = DefaultReleaseStage
	}

	appVersion := version.Version
	if appVersion == "" {
		appVersion = "dev"
	}

	bugsnag.Configure(bugsnag.Configuration{
		APIKey:              apiKey,
		ReleaseStage:        releaseStage,
		AppVersion:          appVersion,
		AppType:             "cli",
		ProjectPackages:     []string{"main", "github.com/shuttlefile/shuttle"},
		NotifyReleaseStages: []string{"prod", "dev", "local"},
		PanicHandler:        func() {}, // Manual panic handling for better control
		Synchronous:         false,
		AutoCaptureSessions: true,
	})

	addSystemMetadata()
	setUserContext()

	initialized = true
	enabled = true
	return nil
}

// IsEnabled returns whether error reporting is active.
func IsEnabled() bool {
	return enabled
}

// addSystemMetadata enriches error reports with runtime environment information.
func addSystemMetadata() {
	systemInfo := bugsnag.MetaData{
		"system": {
			"os_type":       runtime.GOOS,
			"os_arch":       runtime.GOARCH,
			"go_version":    runtime.Version(),
			"num_cpu":       runtime.NumCPU(),
			"num_goroutine": runtime.NumGoroutine(),
		},
	}

	bugsnag.OnBeforeNotify(func(event *bugsnag.Event, bugsnagConfig *bugsnag.Configuration) error {
		for tab, data := range systemInfo {
			for key, value := range data {
				event.MetaData.Add(tab, key, value)
			}
		}
		return nil
	})
}

// setUserContext attaches user identification to error reports. It extracts
// the user from the stored token without transmitting the token itself.
func setUserContext() {
	bugsnag.OnBeforeNotify(func(event *bugsnag.Event, bugsnagConfig *bugsnag.Configuration) error {
		cfg, _ := config.Load()
		if cfg == nil {
			return nil
		}

		token := cfg.GetToken()
		if token == "" {
			return nil
		}

		if userID := getUserIDFromJWT(token); userID != "" {
			event.User = &bugsnag.User{
				Id: userID,
			}
		}
		return nil
	})
}

// getUserIDFromJWT safely extracts the user identifier from a JWT token.
// It does not validate the token signature to avoid blocking on network calls.
func getUserIDFromJWT(tokenString string) string {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}

	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	if username, ok := claims["username"].(string); ok && username != "" {
		return username
	}
	return ""
}

// NotifyError reports critical errors that indicate system failures or
// unexpected behavior.
func NotifyError(ctx context.Context, err error) {
	if !initialized {
		_ = Initialize()
	}

	if !enabled || err == nil {
		return
	}

	_ = bugsnag.Notify(err, ctx, bugsnag.SeverityError)
}

// NotifyWarning reports non-critical issues that may indicate potential
// problems.
func NotifyWarning(ctx context.Context, err error) {
	if !initialized {
		_ = Initialize()
	}

	if !enabled || err == nil {
		return
	}

	_ = bugsnag.Notify(err, ctx, bugsnag.SeverityWarning)
}

// SetCommandContext tracks which CLI command triggered an error.
func SetCommandContext(command string, args []string) {
	if !initialized {
		_ = Initialize()
	}

	bugsnag.OnBeforeNotify(func(event *bugsnag.Event, bugsnagConfig *bugsnag.Configuration) error {
		event.MetaData.Add("command", "name", command)
		if len(args) > 0 {
			event.MetaData.Add("command", "args", strings.Join(args, " "))
		}
		return nil
	})
}

// NotifyOnPanic captures and reports panic conditions before propagating
// them. Use with defer at the start of goroutines and main.
func NotifyOnPanic(ctx context.Context) {
	if r := recover(); r != nil {
		var err error
		switch x := r.(type) {
		case string:
			err = fmt.Errorf("panic: %s", x)
		case error:
			err = fmt.Errorf("panic: %w", x)
		default:
			err = fmt.Errorf("panic: %v", r)
		}

		NotifyError(ctx, err)

		// Preserve panic behavior for proper error handling
		panic(r)
	}
}

// IsUserCancellation identifies errors from user-initiated cancellations.
// These are excluded from reporting as they represent normal user behavior.
func IsUserCancellation(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") ||
		strings.Contains(errStr, "operation cancelled") ||
		strings.Contains(errStr, "user cancelled")
}
