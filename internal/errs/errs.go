package errs

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Wrap adds context and preserves the error chain (errors.Is/As works).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf adds formatted context and preserves the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}

// ChainStrings returns the unwrap chain as strings (outer -> inner).
func ChainStrings(err error) []string {
	if err == nil {
		return nil
	}
	out := make([]string, 0, 4)
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, e.Error())
	}
	return out
}

// Field 以结构化字段记录错误及其链路
func Field(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.Strings("error_chain", ChainStrings(err))
}
