// Package testutil holds small assertion helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertEqual fails the test immediately when expected and actual differ.
func AssertEqual(t testing.TB, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, expected, actual, msgAndArgs...)
}

// AssertNoError fails the test immediately when err is not nil.
func AssertNoError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, err, msgAndArgs...)
}

// AssertError marks the test failed when err is nil.
func AssertError(t testing.TB, err error, msgAndArgs ...any) bool {
	t.Helper()
	return assert.Error(t, err, msgAndArgs...)
}
