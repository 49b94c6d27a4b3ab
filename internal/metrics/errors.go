package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/torosent/scensim/internal/feeder"
	"github.com/torosent/scensim/internal/simerr"
)

// ReasonLabel returns a short, human-friendly label for the error that ended
// a session, used to group failures in snapshots and reports.
func ReasonLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, feeder.ErrExhausted):
		return "data set exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	if kind := simerr.Kind(err); kind != "internal" {
		return kind + " error"
	}
	return friendlyTypeName(fmt.Sprintf("%T", err))
}

func friendlyTypeName(typeName string) string {
	cleaned := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if cleaned == "" {
		return "unknown error"
	}
	if idx := strings.LastIndex(cleaned, "."); idx >= 0 {
		cleaned = cleaned[idx+1:]
	}
	switch cleaned {
	case "errorString", "wrapError", "wrapErrors", "joinError":
		return "runtime error"
	}
	cleaned = strings.TrimSuffix(cleaned, "Error")
	if cleaned == "" {
		return "runtime error"
	}
	return strings.ToLower(cleaned) + " error"
}
