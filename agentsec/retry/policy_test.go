package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	policy := &Policy{Total: 3, BackoffFactor: 0.001}
	calls := 0
	err := Do(context.Background(), policy, nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoNeverRetriesNonRetryableClassification(t *testing.T) {
	policy := &Policy{
		Total:         5,
		BackoffFactor: 0.001,
		Classify: func(err error) Classification {
			return Classification{Retryable: false}
		},
	}
	calls := 0
	err := Do(context.Background(), policy, nil, func() error {
		calls++
		return errors.New("validation failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStatusForcelistGating(t *testing.T) {
	policy := &Policy{
		Total:           3,
		BackoffFactor:   0.001,
		StatusForcelist: []int{429, 503},
		Classify: func(err error) Classification {
			return Classification{Retryable: true, StatusCode: 400}
		},
	}
	calls := 0
	err := Do(context.Background(), policy, nil, func() error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "status not in forcelist must not retry")
}

func TestDoExhaustsRetriesAndReturnsLastError(t *testing.T) {
	policy := &Policy{Total: 2, BackoffFactor: 0.001}
	calls := 0
	err := Do(context.Background(), policy, nil, func() error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "still failing", err.Error())
}

func TestDoTotalMinimumOneAttempt(t *testing.T) {
	policy := &Policy{Total: 0, BackoffFactor: 0.001}
	calls := 0
	_ = Do(context.Background(), policy, nil, func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := &Policy{Total: 3, BackoffFactor: 1}
	calls := 0
	err := Do(ctx, policy, nil, func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
