package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"backend unavailable is transient", ErrBackendUnavailable, ErrorTransient},
		{"connection lost is transient", ErrConnectionLost, ErrorTransient},
		{"invalid config is fatal", ErrInvalidConfig, ErrorFatal},
		{"missing config is fatal", ErrMissingConfig, ErrorFatal},
		{"parsing failure is invalid", ErrParsingFailed, ErrorInvalid},
		{"timeout message is transient", stderrors.New("request timeout"), ErrorTransient},
		{"unknown defaults to transient", stderrors.New("something odd"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := WrapTransient(ErrBackendUnavailable, "DetectorSource", "FindDetectorMappings", "search request")
	require.Error(t, err)

	assert.True(t, stderrors.Is(err, ErrBackendUnavailable))
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "DetectorSource.FindDetectorMappings")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := stderrors.New("boom")
	err := WrapInvalid(fmt.Errorf("outer: %w", base), "Cache", "Put", "validate key")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.True(t, stderrors.Is(err, base))
}
