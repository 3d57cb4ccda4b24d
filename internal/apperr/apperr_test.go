package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainreview/core/pkg/protocol"
)

func TestCode_MapsSentinelsToWireCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Timeout, protocol.CodeTimeout},
		{Cancelled, protocol.CodeCancelled},
		{PathEscape, protocol.CodePathEscape},
		{AllowlistViolation, protocol.CodeAllowlistViolation},
		{NoSuchRun, protocol.CodeNoSuchRun},
		{errors.New("unrecognized"), protocol.CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "Code(%v)", tt.err)
	}
}

func TestCode_ResolvesThroughWrap(t *testing.T) {
	wrapped := Wrap(PathEscape, "evidence %s", "../etc/passwd")
	require.ErrorIs(t, wrapped, PathEscape, "Wrap must preserve errors.Is resolution")
	assert.Equal(t, protocol.CodePathEscape, Code(wrapped))
}

func TestToErrorObject_Nil(t *testing.T) {
	assert.Nil(t, ToErrorObject(nil))
}

func TestToErrorObject_CarriesCodeAndMessage(t *testing.T) {
	err := Wrap(NoSuchRun, "run %s", "abc123")
	obj := ToErrorObject(err)
	require.NotNil(t, obj)
	assert.Equal(t, protocol.CodeNoSuchRun, obj.Code)
	assert.Equal(t, err.Error(), obj.Message)
}

func TestWrap_FormatsDetail(t *testing.T) {
	err := Wrap(ToolArgs, "field %q is required", "repo_root")
	want := fmt.Sprintf("%s: field \"repo_root\" is required", ToolArgs.Error())
	assert.Equal(t, want, err.Error())
}
