package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackGroupReturnsFirstSuccess(t *testing.T) {
	var tried []string
	group := NewFallbackGroup(
		FallbackEntry[string]{Name: "a", Value: "a", Allow: func() bool { return true }},
		FallbackEntry[string]{Name: "b", Value: "b", Allow: func() bool { return true }},
	)

	attempted, err := group.Execute(func(v string) error {
		tried = append(tried, v)
		if v == "a" {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, attempted)
	assert.Equal(t, []string{"a", "b"}, tried)
}

func TestFallbackGroupSkipsGatedEntries(t *testing.T) {
	group := NewFallbackGroup(
		FallbackEntry[string]{Name: "a", Value: "a", Allow: func() bool { return false }},
		FallbackEntry[string]{Name: "b", Value: "b", Allow: func() bool { return true }},
	)

	attempted, err := group.Execute(func(v string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, attempted)
}

func TestFallbackGroupReturnsErrAllFailedWhenEmpty(t *testing.T) {
	group := NewFallbackGroup[string]()
	_, err := group.Execute(func(v string) error { return nil })
	require.ErrorIs(t, err, ErrAllFailed)
}

func TestFallbackGroupCallsOutcomeCallbacks(t *testing.T) {
	var successCalled, failureCalled bool
	group := NewFallbackGroup(
		FallbackEntry[string]{
			Name: "a", Value: "a", Allow: func() bool { return true },
			OnFailure: func() { failureCalled = true },
		},
		FallbackEntry[string]{
			Name: "b", Value: "b", Allow: func() bool { return true },
			OnSuccess: func() { successCalled = true },
		},
	)

	_, err := group.Execute(func(v string) error {
		if v == "a" {
			return errors.New("fail")
		}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, failureCalled)
	assert.True(t, successCalled)
}

func TestExecuteWithResultReturnsValue(t *testing.T) {
	group := NewFallbackGroup(
		FallbackEntry[string]{Name: "a", Value: "a", Allow: func() bool { return true }},
	)

	attempted, result, err := ExecuteWithResult(group, func(v string) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, attempted)
	assert.Equal(t, 42, result)
}
