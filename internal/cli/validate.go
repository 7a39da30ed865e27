package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/ruleset"
)

// ValidationError is one ruleset problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Name   string            `json:"name,omitempty"`
	Kinds  map[string]string `json:"kinds,omitempty"`
	Zones  map[string]string `json:"zones,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <ruleset-dir>",
		Short: "Validate a CUE visibility ruleset",
		Long: `Compile a CUE visibility ruleset against the ruleset schema.

Checks that every kind has a scope (global, zoned or derived), every zone
has an access level (public, private or hidden) and the property names the
rules read are set.

Examples:
  tablesync validate ./rules
  tablesync validate ./rules --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	rs, err := ruleset.LoadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "ruleset directory not found", err)
	}
	if err != nil {
		return outputValidationErrors(formatter, []ValidationError{toValidationError(err)})
	}

	formatter.VerboseLog("Compiled ruleset %q from %s", rs.Name, dir)

	result := ValidationResult{
		Valid: true,
		Name:  rs.Name,
		Kinds: make(map[string]string, len(rs.Policy.Kinds)),
		Zones: make(map[string]string, len(rs.Policy.Zones)),
	}
	for k, scope := range rs.Policy.Kinds {
		result.Kinds[string(k)] = string(scope)
	}
	for z, access := range rs.Policy.Zones {
		result.Zones[z] = string(access)
	}
	return outputValidateSuccess(formatter, result)
}

// toValidationError keeps the CUE position of a compile error when there is one.
func toValidationError(err error) ValidationError {
	var cErr *ruleset.CompileError
	if errors.As(err, &cErr) {
		ve := ValidationError{Field: cErr.Field, Message: cErr.Message}
		if cErr.Pos.IsValid() {
			ve.File = cErr.Pos.Filename()
			ve.Line = cErr.Pos.Line()
		}
		return ve
	}
	return ValidationError{Field: "ruleset", Message: err.Error()}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "\u2713 Ruleset %s valid (%d kinds, %d zones)\n", result.Name, len(result.Kinds), len(result.Zones))
	if formatter.Verbose {
		for _, k := range slices.Sorted(maps.Keys(result.Kinds)) {
			fmt.Fprintf(w, "  kind %-10s %s\n", k, result.Kinds[k])
		}
		for _, z := range slices.Sorted(maps.Keys(result.Zones)) {
			fmt.Fprintf(w, "  zone %-10s %s\n", z, result.Zones[z])
		}
	}
	return nil
}

// outputValidationErrors outputs validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	if formatter.IsJSON() {
		err := formatter.Respond(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeRulesetInvalid,
				Message: errs[0].Message,
			},
		})
		if err != nil {
			return err
		}
		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	w := formatter.Writer
	fmt.Fprintln(w, "\u2717 Validation failed")
	fmt.Fprintln(w)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(w, "%s:%d\n", e.File, e.Line)
		}
		fmt.Fprintf(w, "  %s: %s\n\n", e.Field, e.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
