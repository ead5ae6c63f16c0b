package hook

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
)

type recordingAction struct {
	calls []*model.Envelope
	err   error
}

func (a *recordingAction) Name() string { return "recording" }

func (a *recordingAction) Handle(_ context.Context, env *model.Envelope) error {
	a.calls = append(a.calls, env)
	return a.err
}

const doc = `{"message_id":"abc123","group_id":"g1","group_name":"Test","sender":"npub1xyz","content":"hi","timestamp":1770000000,"is_me":false}`

func TestRunSuccess(t *testing.T) {
	action := &recordingAction{}

	err := NewRunner(zap.NewNop(), 0).Run(context.Background(), strings.NewReader(doc), action)
	require.NoError(t, err)
	require.Len(t, action.calls, 1)
	assert.Equal(t, "abc123", action.calls[0].MessageID)
	assert.Equal(t, apperrors.ExitOK, apperrors.ExitCode(err))
}

func TestRunMalformedNeverCallsAction(t *testing.T) {
	action := &recordingAction{}

	err := NewRunner(zap.NewNop(), 0).Run(context.Background(), strings.NewReader(`{"message_id":`), action)
	require.Error(t, err)
	assert.Empty(t, action.calls)
	assert.Equal(t, apperrors.ExitInput, apperrors.ExitCode(err))
}

func TestRunDownstreamError(t *testing.T) {
	action := &recordingAction{err: apperrors.Downstream(errors.New("connection refused"))}

	err := NewRunner(zap.NewNop(), 0).Run(context.Background(), strings.NewReader(doc), action)
	require.Error(t, err)
	assert.Equal(t, apperrors.ExitDownstream, apperrors.ExitCode(err))
}

func TestReadLimit(t *testing.T) {
	_, err := Read(strings.NewReader(doc), 16)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInputTooLarge)

	env, err := Read(strings.NewReader(doc), int64(len(doc)))
	require.NoError(t, err)
	assert.Equal(t, "g1", env.GroupID)
}

func TestSkipSelf(t *testing.T) {
	inner := &recordingAction{}
	action := SkipSelf(zap.NewNop(), inner)
	runner := NewRunner(zap.NewNop(), 0)

	self := strings.Replace(doc, `"is_me":false`, `"is_me":true`, 1)
	require.NoError(t, runner.Run(context.Background(), strings.NewReader(self), action))
	assert.Empty(t, inner.calls)

	require.NoError(t, runner.Run(context.Background(), strings.NewReader(doc), action))
	assert.Len(t, inner.calls, 1)
	assert.Equal(t, "recording", action.Name())
}

func TestLazyBuildsOnlyWhenHandling(t *testing.T) {
	builds, closes := 0, 0
	inner := &recordingAction{}

	action := SkipSelf(zap.NewNop(), Lazy(zap.NewNop(), "archive", func(context.Context) (Action, func() error, error) {
		builds++
		return inner, func() error { closes++; return nil }, nil
	}))
	assert.Equal(t, "archive", action.Name())

	runner := NewRunner(zap.NewNop(), 0)

	self := strings.Replace(doc, `"is_me":false`, `"is_me":true`, 1)
	require.NoError(t, runner.Run(context.Background(), strings.NewReader(self), action))
	assert.Zero(t, builds)

	require.NoError(t, runner.Run(context.Background(), strings.NewReader(doc), action))
	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, closes)
	assert.Len(t, inner.calls, 1)
}

func TestLazyFactoryError(t *testing.T) {
	action := Lazy(zap.NewNop(), "mongo", func(context.Context) (Action, func() error, error) {
		return nil, nil, apperrors.Downstream(errors.New("connection refused"))
	})

	err := NewRunner(zap.NewNop(), 0).Run(context.Background(), strings.NewReader(doc), action)
	assert.Equal(t, apperrors.ExitDownstream, apperrors.ExitCode(err))
}
