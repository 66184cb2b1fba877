// Package errors derives stable error class names for metric tags and
// failure notification payloads.
package errors

import (
	goerrors "errors"
	"fmt"
	"strings"
)

// Classify reduces err to a snake_case class name derived from the
// innermost error's Go type. Wrapping with fmt.Errorf does not change the
// class, so dashboards and notifications group by root cause rather than
// by whichever layer added context.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for {
		inner := goerrors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}

	name := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	name = strings.ToLower(strings.ReplaceAll(name, ".", "_"))
	if name == "" || name == "<nil>" {
		return "unknown"
	}
	return name
}
