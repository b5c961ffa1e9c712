// Package assert wraps gotest.tools and testify so that failing error assertions print the full eris
// stack trace of the offending error.
package assert

import (
	"time"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	testify "github.com/stretchr/testify/assert"
	gotest "gotest.tools/v3/assert"
)

type helperT interface {
	Helper()
}

func helper(t any) {
	if ht, ok := t.(helperT); ok {
		ht.Helper()
	}
}

func withTrace(err error, msgAndArgs []any) []any {
	if err == nil {
		return msgAndArgs
	}
	return append([]any{eris.ToString(err, true)}, msgAndArgs...)
}

func Assert(t gotest.TestingT, comparison gotest.BoolOrComparison, msgAndArgs ...any) {
	helper(t)
	gotest.Assert(t, comparison, msgAndArgs...)
}

func Check(t gotest.TestingT, comparison gotest.BoolOrComparison, msgAndArgs ...any) bool {
	helper(t)
	return gotest.Check(t, comparison, msgAndArgs...)
}

func NilError(t gotest.TestingT, err error, msgAndArgs ...any) {
	helper(t)
	gotest.NilError(t, err, withTrace(err, msgAndArgs)...)
}

func Equal(t gotest.TestingT, x, y any, msgAndArgs ...any) {
	helper(t)
	gotest.Equal(t, x, y, msgAndArgs...)
}

func DeepEqual(t gotest.TestingT, x, y any, opts ...gocmp.Option) {
	helper(t)
	gotest.DeepEqual(t, x, y, opts...)
}

// ErrorIs fails the test unless err matches expected anywhere in its chain, including joined errors.
func ErrorIs(t gotest.TestingT, err error, expected error, msgAndArgs ...any) {
	helper(t)
	gotest.ErrorIs(t, err, expected, withTrace(err, msgAndArgs)...)
}

func ErrorContains(t gotest.TestingT, err error, substring string, msgAndArgs ...any) {
	helper(t)
	gotest.ErrorContains(t, err, substring, withTrace(err, msgAndArgs)...)
}

func Len(t testify.TestingT, object any, length int, msgAndArgs ...any) bool {
	helper(t)
	return testify.Len(t, object, length, msgAndArgs...)
}

func Empty(t testify.TestingT, object any, msgAndArgs ...any) bool {
	helper(t)
	return testify.Empty(t, object, msgAndArgs...)
}

func InDelta(t testify.TestingT, expected, actual any, delta float64, msgAndArgs ...any) bool {
	helper(t)
	return testify.InDelta(t, expected, actual, delta, msgAndArgs...)
}

func Eventually(t testify.TestingT, condition func() bool, waitFor, tick time.Duration, msgAndArgs ...any) bool {
	helper(t)
	return testify.Eventually(t, condition, waitFor, tick, msgAndArgs...)
}

func Never(t testify.TestingT, condition func() bool, waitFor, tick time.Duration, msgAndArgs ...any) bool {
	helper(t)
	return testify.Never(t, condition, waitFor, tick, msgAndArgs...)
}
