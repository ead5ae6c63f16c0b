package hook

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
)

const DefaultInputLimit = 1 << 20

type Action interface {
	Name() string
	Handle(ctx context.Context, env *model.Envelope) error
}

type Runner struct {
	log   *zap.Logger
	limit int64
}

func NewRunner(log *zap.Logger, limit int64) *Runner {
	if limit <= 0 {
		limit = DefaultInputLimit
	}

	return &Runner{
		log:   log,
		limit: limit,
	}
}

// Read consumes in until end of stream and decodes the single notification it carries.
func Read(in io.Reader, limit int64) (*model.Envelope, error) {
	if limit <= 0 {
		limit = DefaultInputLimit
	}

	data, err := io.ReadAll(io.LimitReader(in, limit+1))
	if err != nil {
		return nil, apperrors.Input(fmt.Errorf("read stdin: %w", err))
	}

	if int64(len(data)) > limit {
		return nil, apperrors.Input(fmt.Errorf("%w: more than %d bytes", apperrors.ErrInputTooLarge, limit))
	}

	return model.Decode(data)
}

func (r *Runner) Run(ctx context.Context, in io.Reader, action Action) error {
	env, err := Read(in, r.limit)
	if err != nil {
		r.log.Error("Rejecting notification", zap.String("action", action.Name()), zap.Error(err))
		return err
	}

	log := r.log.With(
		zap.String("action", action.Name()),
		zap.String("messageID", env.MessageID),
		zap.String("groupID", env.GroupID),
	)

	log.Debug("Notification received", zap.Bool("isMe", env.IsMe))

	if err := action.Handle(ctx, env); err != nil {
		log.Error("Action failed", zap.Int("exitCode", apperrors.ExitCode(err)), zap.Error(err))
		return err
	}

	log.Debug("Notification handled")

	return nil
}

type skipSelf struct {
	Action
	log *zap.Logger
}

// SkipSelf wraps a forwarding action so messages authored by the local identity
// succeed without touching the downstream.
func SkipSelf(log *zap.Logger, action Action) Action {
	return &skipSelf{Action: action, log: log}
}

func (s *skipSelf) Handle(ctx context.Context, env *model.Envelope) error {
	if env.IsMe {
		s.log.Debug("Skipping own message", zap.String("action", s.Name()), zap.String("messageID", env.MessageID))
		return nil
	}

	return s.Action.Handle(ctx, env)
}

// Factory opens whatever an action needs. The returned close func may be nil.
type Factory func(ctx context.Context) (Action, func() error, error)

type lazy struct {
	log     *zap.Logger
	name    string
	factory Factory
}

// Lazy defers building an action until there is a notification to hand it, so a
// message that is skipped never opens a downstream connection.
func Lazy(log *zap.Logger, name string, factory Factory) Action {
	return &lazy{log: log, name: name, factory: factory}
}

func (l *lazy) Name() string {
	return l.name
}

func (l *lazy) Handle(ctx context.Context, env *model.Envelope) error {
	action, closeFn, err := l.factory(ctx)
	if err != nil {
		return err
	}

	if closeFn != nil {
		defer func() {
			if err := closeFn(); err != nil {
				l.log.Warn("Failed to release action resources", zap.String("action", l.name), zap.Error(err))
			}
		}()
	}

	return action.Handle(ctx, env)
}
