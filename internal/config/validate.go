package config

import (
	"fmt"
	"time"
)

func parseDurationField(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedLevels is the set of valid enforcement levels (spec §4.8 step 5).
var recognizedLevels = map[string]bool{
	"strict":  true,
	"normal":  true,
	"lenient": true,
}

// Validate checks a DeploymentConfig for structural and semantic errors. It
// returns every error found (empty if valid).
func Validate(cfg *DeploymentConfig) []ValidationError {
	var errs []ValidationError
	d := cfg.Deployment

	if d.SQLDir == "" {
		errs = append(errs, ValidationError{Field: "deployment.sql_dir", Message: "is required"})
	}
	if d.Environment == "" {
		errs = append(errs, ValidationError{Field: "deployment.environment", Message: "is required"})
	}
	if d.DSN == "" {
		errs = append(errs, ValidationError{Field: "deployment.dsn", Message: "is required"})
	}

	if !d.SkipCoverage && d.TestsDir == "" {
		errs = append(errs, ValidationError{
			Field:   "deployment.tests_dir",
			Message: "is required unless skip_coverage is set",
		})
	}

	if !d.SkipFunctions && d.FunctionsDir != "" && d.FunctionsDeploy.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "deployment.functions_deploy.command",
			Message: "is required when functions_dir is set and skip_functions is false",
		})
	}

	if d.Enforcement.Level != "" && !recognizedLevels[d.Enforcement.Level] {
		errs = append(errs, ValidationError{
			Field:   "deployment.enforcement.level",
			Message: fmt.Sprintf("unrecognized level %q (want strict, normal, or lenient)", d.Enforcement.Level),
		})
	}

	for _, spec := range []struct {
		field string
		cmd   CommandSpec
	}{
		{"deployment.test", d.Test},
		{"deployment.functions_deploy", d.FunctionsDeploy},
	} {
		if spec.cmd.Timeout == "" {
			continue
		}
		if _, err := parseDurationField(spec.cmd.Timeout); err != nil {
			errs = append(errs, ValidationError{
				Field:   spec.field + ".timeout",
				Message: fmt.Sprintf("invalid duration %q: %v", spec.cmd.Timeout, err),
			})
		}
	}

	return errs
}
