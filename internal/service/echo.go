package service

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
	"github.com/kai-familiar/marmot-cli/pkg/console"
)

const (
	DefaultEchoCLI     = "marmot-cli"
	DefaultEchoPrefix  = "Echo: "
	DefaultEchoTimeout = 30 * time.Second

	outputTail = 4096
)

type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return console.Decode(out), err
}

type EchoConfig struct {
	CLI     string
	CLIArgs []string // CLIArgs go before the subcommand, e.g. --db or --relay
	Prefix  string
	Timeout time.Duration
}

// EchoService replies to every message in the group it came from, through the engine CLI.
type EchoService struct {
	log    *zap.Logger
	cfg    EchoConfig
	runner CommandRunner
}

func NewEchoService(log *zap.Logger, cfg EchoConfig, runner CommandRunner) *EchoService {
	if cfg.CLI == "" {
		cfg.CLI = DefaultEchoCLI
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultEchoTimeout
	}

	if runner == nil {
		runner = ExecRunner{}
	}

	return &EchoService{
		log:    log,
		cfg:    cfg,
		runner: runner,
	}
}

func (s *EchoService) Name() string {
	return "echo"
}

func (s *EchoService) Args(env *model.Envelope) []string {
	args := make([]string, 0, len(s.cfg.CLIArgs)+4)
	args = append(args, s.cfg.CLIArgs...)
	return append(args, "send", "-g", env.GroupID, s.cfg.Prefix+env.Content)
}

func (s *EchoService) Handle(ctx context.Context, env *model.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := s.runner.Run(ctx, s.cfg.CLI, s.Args(env)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.Downstream(fmt.Errorf("%s send timed out after %s", s.cfg.CLI, s.cfg.Timeout))
		}

		return apperrors.Downstream(fmt.Errorf("%s send exited with %d: %w: %s",
			s.cfg.CLI, console.ExitCode(err), err, console.Tail(output, outputTail)))
	}

	s.log.Debug("Echo sent", zap.String("groupID", env.GroupID), zap.String("output", console.Tail(output, outputTail)))

	return nil
}
