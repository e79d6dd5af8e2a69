package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError_Message(t *testing.T) {
	err := NewExitError(ExitFailure, "sync failed")
	assert.Equal(t, "sync failed", err.Error())

	wrapped := WrapExitError(ExitCommandError, "open database", errors.New("locked"))
	assert.Equal(t, "open database: locked", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "locked")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitCommandError,
		GetExitCode(fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "inner"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestOutputFormatter_JSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	err := f.Print(map[string]int{"pending": 2}, func(w io.Writer) {
		t.Fatal("text function must not run in json mode")
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pending": 2}`, buf.String())
}

func TestOutputFormatter_Text(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}

	err := f.Print(nil, func(w io.Writer) {
		fmt.Fprintln(w, "pending: 2")
	})
	require.NoError(t, err)
	assert.Equal(t, "pending: 2\n", buf.String())
}
