package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/pkg/console"
)

const (
	EnvDeliveryID = "MARMOT_DELIVERY_ID"
	EnvMessageID  = "MARMOT_MESSAGE_ID"

	outputTail = 4096
	waitDelay  = 5 * time.Second
)

type Delivery struct {
	MessageID string
	Body      []byte
}

type Result struct {
	DeliveryID uuid.UUID
	MessageID  string
	ExitCode   int // ExitCode is -1 when the handler could not start or was killed
	Duration   time.Duration
	Output     string
	Err        error
}

func (r Result) Outcome() string {
	switch {
	case r.ExitCode == 0 && r.Err == nil:
		return OutcomeOK
	case r.ExitCode > 0:
		return OutcomeFailed
	default:
		return OutcomeError
	}
}

type Config struct {
	Command string
	Timeout time.Duration // zero waits for the handler indefinitely
}

// Dispatcher runs the on-message command once per notification. It never retries:
// whatever the handler does with its one delivery is final.
type Dispatcher struct {
	log     *zap.Logger
	cfg     Config
	metrics *Metrics

	mu sync.Mutex
}

func New(log *zap.Logger, cfg Config, metrics *Metrics) (*Dispatcher, error) {
	if cfg.Command == "" {
		return nil, apperrors.Config(errors.New("on-message command is empty"))
	}

	return &Dispatcher{
		log:     log,
		cfg:     cfg,
		metrics: metrics,
	}, nil
}

// Deliver spawns one handler, feeds it the document on stdin and closes stdin.
// Deliveries are serialized; a handler failure is reported in the result, not as an error.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := Result{
		DeliveryID: uuid.New(),
		MessageID:  delivery.MessageID,
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	name, args := console.Shell(d.cfg.Command)

	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(delivery.Body)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(),
		EnvDeliveryID+"="+res.DeliveryID.String(),
		EnvMessageID+"="+delivery.MessageID,
	)

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.ExitCode = console.ExitCode(err)
	res.Output = console.Tail(console.Decode(out.Bytes()), outputTail)
	if err != nil {
		res.Err = err
	}

	d.metrics.ObserveDelivery(res)

	log := d.log.With(
		zap.String("deliveryID", res.DeliveryID.String()),
		zap.String("messageID", res.MessageID),
		zap.Int("exitCode", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)

	switch res.Outcome() {
	case OutcomeOK:
		log.Info("Delivery completed")
	case OutcomeFailed:
		log.Warn("Handler exited with non-zero status", zap.String("output", res.Output))
	default:
		log.Error("Handler did not complete", zap.String("output", res.Output), zap.Error(err))
	}

	return res
}
