package errors

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// formatError renders all errors on one line, log lines and observer messages stay single line
func formatError(es []error) string {
	if len(es) == 1 {
		return es[0].Error()
	}

	points := make([]string, len(es))
	for i, err := range es {
		points[i] = err.Error()
	}

	return fmt.Sprintf("%d errors occurred: %s", len(es), strings.Join(points, "; "))
}

// FormatErrorOrNil returns nil when err holds no errors
func FormatErrorOrNil(err *multierror.Error) error {
	if err != nil {
		err.ErrorFormat = formatError
	}
	return err.ErrorOrNil()
}

// Append collects errs into one error, nil errors are skipped
func Append(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return FormatErrorOrNil(merr)
}
