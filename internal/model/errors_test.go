package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/evolab/gactl/internal/model"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	cases := []struct {
		given error
		then  string
	}{
		{model.ErrAlreadyRunning, "AlreadyRunning"},
		{fmt.Errorf("start: %w", model.ErrNotRunning), "NotRunning"},
		{&model.Error{Kind: model.ErrExecutableNotFound, Detail: "engine/optimizer"}, "ExecutableNotFound"},
		{&model.Error{Kind: model.ErrLaunchFailure, Err: errors.New("exec format error")}, "LaunchFailure"},
		{errors.New("boom"), ""},
		{nil, ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.then, model.Kind(tc.given))
	}
}

func TestError(t *testing.T) {
	cause := errors.New("permission denied")
	err := &model.Error{
		Kind:   model.ErrLaunchFailure,
		Detail: "engine/optimizer",
		Err:    cause,
	}
	require.EqualError(t, err, "optimizer failed to launch: engine/optimizer: permission denied")
	require.ErrorIs(t, err, model.ErrLaunchFailure)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, model.ErrTerminationFailure)
}
