package conf

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError holds the individual problems found while validating
// a Settings structure.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings checks the loaded configuration for values that would
// make a scan impossible or nonsensical.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validatePlayerSettings(&settings.Player, &ve)
	validateAPISettings(&settings.API, &ve)
	validateAnalysisSettings(&settings.Analysis, &ve)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validatePlayerSettings(player *PlayerSettings, ve *ValidationError) {
	switch player.LookupKey {
	case "username", "id":
	default:
		ve.Errors = append(ve.Errors, fmt.Sprintf("player.lookupkey must be 'username' or 'id', got %q", player.LookupKey))
	}
}

func validateAPISettings(api *APISettings, ve *ValidationError) {
	if api.BaseURL == "" {
		ve.Errors = append(ve.Errors, "api.baseurl must not be empty")
	}
	if api.RetryCount < 0 {
		ve.Errors = append(ve.Errors, "api.retrycount must not be negative")
	}
	if api.RetryDelay < 0 {
		ve.Errors = append(ve.Errors, "api.retrydelay must not be negative")
	}
	if api.PageSize <= 0 || api.PageSize > 100 {
		ve.Errors = append(ve.Errors, "api.pagesize must be between 1 and 100")
	}
	if api.BatchSize <= 0 || api.BatchSize > 50 {
		ve.Errors = append(ve.Errors, "api.batchsize must be between 1 and 50")
	}
}

func validateAnalysisSettings(analysis *AnalysisSettings, ve *ValidationError) {
	if analysis.ParseWorkers <= 0 {
		ve.Errors = append(ve.Errors, "analysis.parseworkers must be positive")
	}
	if analysis.RecomputeWorkers <= 0 {
		ve.Errors = append(ve.Errors, "analysis.recomputeworkers must be positive")
	}
	if analysis.HashWorkers <= 0 {
		ve.Errors = append(ve.Errors, "analysis.hashworkers must be positive")
	}
	if analysis.TopLimit <= 0 {
		ve.Errors = append(ve.Errors, "analysis.toplimit must be positive")
	}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
