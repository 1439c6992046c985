package config

import "fmt"

// ValidationIssue describes a single configuration problem
type ValidationIssue struct {
	Field   string
	Message string
	Level   string // error, warning
}

// Validate checks a Config for required fields and consistent values, returning
// the first error-level issue as a plain error (kept deliberately simple: this
// is a CLI-loaded config, not a user-facing form).
func Validate(cfg *Config) error {
	for _, issue := range CheckConfiguration(cfg) {
		if issue.Level == "error" {
			return fmt.Errorf("%s: %s", issue.Field, issue.Message)
		}
	}
	return nil
}

// CheckConfiguration runs every validation rule and returns all issues found,
// including warnings, so callers that want the full picture can inspect it.
func CheckConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.LocalStore != nil {
		switch cfg.LocalStore.Driver {
		case "postgres":
			if cfg.LocalStore.PostgresDSN == "" {
				issues = append(issues, ValidationIssue{
					Field:   "local_store.postgres_dsn",
					Message: "postgres_dsn is required when driver is postgres",
					Level:   "error",
				})
			}
		case "memory", "":
			// nothing to validate
		default:
			issues = append(issues, ValidationIssue{
				Field:   "local_store.driver",
				Message: fmt.Sprintf("invalid local store driver %q", cfg.LocalStore.Driver),
				Level:   "error",
			})
		}
	}

	if cfg.Logging != nil {
		switch cfg.Logging.Level {
		case "debug", "info", "warn", "error", "":
		default:
			issues = append(issues, ValidationIssue{
				Field:   "logging.level",
				Message: fmt.Sprintf("invalid log level %q", cfg.Logging.Level),
				Level:   "error",
			})
		}
	}

	return issues
}
