package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	failing := llm.InvokerFunc(func(ctx context.Context, modelID string, body []byte) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("throttled")
	})

	var transitions []gobreaker.State
	inv := New(failing, Config{FailureThreshold: 2, Timeout: time.Minute},
		WithStateListener(func(_ string, _, to gobreaker.State) { transitions = append(transitions, to) }))

	for i := 0; i < 2; i++ {
		_, err := inv.InvokeModel(context.Background(), llm.MistralModelID, nil)
		require.Error(t, err)
		assert.EqualError(t, err, "throttled")
	}
	assert.Equal(t, gobreaker.StateOpen, inv.State(llm.MistralModelID))
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := inv.InvokeModel(context.Background(), llm.MistralModelID, nil)
	require.Error(t, err)
	assert.Equal(t, llm.CodeBackendInvocation, xerrors.CodeOf(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the backend")
}

func TestBreakersAreIsolatedPerModel(t *testing.T) {
	inv := New(llm.InvokerFunc(func(ctx context.Context, modelID string, body []byte) ([]byte, error) {
		if modelID == llm.LlamaModelID {
			return nil, errors.New("down")
		}
		return []byte(`ok`), nil
	}), Config{FailureThreshold: 1})

	_, err := inv.InvokeModel(context.Background(), llm.LlamaModelID, nil)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, inv.State(llm.LlamaModelID))

	raw, err := inv.InvokeModel(context.Background(), llm.MistralModelID, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(raw))
	assert.Equal(t, gobreaker.StateClosed, inv.State(llm.MistralModelID))
}

func TestCanceledCallsDoNotTrip(t *testing.T) {
	inv := New(llm.InvokerFunc(func(ctx context.Context, modelID string, body []byte) ([]byte, error) {
		return nil, context.Canceled
	}), Config{FailureThreshold: 1})

	for i := 0; i < 3; i++ {
		_, err := inv.InvokeModel(context.Background(), llm.MistralModelID, nil)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, inv.State(llm.MistralModelID))
}

func TestUnrecognizedModelsShareOneBreaker(t *testing.T) {
	var names []string
	inv := New(llm.InvokerFunc(func(ctx context.Context, modelID string, body []byte) ([]byte, error) {
		return nil, errors.New("no such model")
	}), Config{FailureThreshold: 2, Timeout: time.Minute},
		WithStateListener(func(name string, _, _ gobreaker.State) { names = append(names, name) }))

	for i := 0; i < 1000; i++ {
		_, _ = inv.InvokeModel(context.Background(), fmt.Sprintf("bogus-%d", i), nil)
	}
	assert.Equal(t, 1, inv.Len())
	assert.Equal(t, []string{SharedKey}, names, "state changes must carry the shared name only")
	assert.Equal(t, gobreaker.StateOpen, inv.State("bogus-other"))

	assert.Equal(t, gobreaker.StateClosed, inv.State(llm.MistralModelID), "recognized models keep their own breaker")
}

func TestClaudeFamilyIDsAreCapped(t *testing.T) {
	inv := New(llm.InvokerFunc(func(ctx context.Context, modelID string, body []byte) ([]byte, error) {
		return []byte(`ok`), nil
	}), Config{MaxBreakers: 3}, WithRouter(llm.NewRouter()))

	for i := 0; i < 50; i++ {
		_, err := inv.InvokeModel(context.Background(), fmt.Sprintf("anthropic.claude-v%d", i), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, inv.Len(), "three named breakers plus the shared one")
}
