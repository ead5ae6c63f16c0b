package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
)

const (
	sampleDoc = `{"message_id":"abc123","group_id":"g1","group_name":"Test","sender":"npub1xyz","content":"hi","timestamp":1770000000,"is_me":false}`
	selfDoc   = `{"message_id":"abc124","group_id":"g1","group_name":"Test","sender":"npub1me","content":"hello","timestamp":1770000001,"is_me":true}`

	signerPubkey = "fa984bd7dbb282f07e16e7ae87b26a2a7b9b90b7246a44771f0cf5ae58018f52"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()

	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestLogCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "messages.jsonl")

	out, err := execute(t, sampleDoc, "log", "--file", file)
	require.NoError(t, err)
	assert.Equal(t, "[Test] npub1xyz: hi\n", out)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logged_at"`)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestLogCommandKeepsOwnMessages(t *testing.T) {
	file := filepath.Join(t.TempDir(), "messages.jsonl")

	out, err := execute(t, selfDoc, "log", "--file", file)
	require.NoError(t, err)
	assert.Equal(t, "[Test] You: hello\n", out)
}

func TestMalformedInputExitCode(t *testing.T) {
	file := filepath.Join(t.TempDir(), "messages.jsonl")

	out, err := execute(t, `{"message_id":`, "log", "--file", file)
	assert.Equal(t, apperrors.ExitInput, apperrors.ExitCode(err))
	assert.Empty(t, out)

	_, statErr := os.Stat(file)
	assert.True(t, os.IsNotExist(statErr), "nothing is written for a rejected notification")
}

func TestEnvFileSuppliesSettings(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "from-env.jsonl")
	envFile := filepath.Join(dir, "hook.env")

	require.NoError(t, os.WriteFile(envFile, []byte("MARMOT_LOG_FILE="+file+"\n"), 0o600))

	if _, set := os.LookupEnv("MARMOT_LOG_FILE"); set {
		t.Skip("MARMOT_LOG_FILE is set in the test environment")
	}
	t.Cleanup(func() { _ = os.Unsetenv("MARMOT_LOG_FILE") })

	_, err := execute(t, sampleDoc, "log", "--env-file", envFile)
	require.NoError(t, err)

	_, err = os.Stat(file)
	assert.NoError(t, err)
}

func TestMissingEnvFileIsConfigError(t *testing.T) {
	_, err := execute(t, sampleDoc, "log", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
}

func TestWebhookCommand(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := execute(t, selfDoc, "webhook", "--url", srv.URL)
	require.NoError(t, err)
	assert.Zero(t, calls.Load(), "own messages are not forwarded")

	_, err = execute(t, sampleDoc, "webhook", "--url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = execute(t, selfDoc, "webhook", "--url", srv.URL, "--include-self")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookWithoutURLIsConfigError(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")

	_, err := execute(t, sampleDoc, "webhook")
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
}

func TestMisconfiguredHandlersSkipOwnMessages(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	t.Setenv("MAIL_TO", "")

	for _, action := range []string{"webhook", "kafka", "mail"} {
		t.Run(action, func(t *testing.T) {
			in := strings.NewReader(selfDoc)

			cmd := NewRootCommand()
			cmd.SetIn(in)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs([]string{action})

			require.NoError(t, cmd.ExecuteContext(context.Background()))
			assert.Zero(t, in.Len(), "stdin is read to the end")

			_, err := execute(t, `{"message_id":`, action)
			assert.Equal(t, apperrors.ExitInput, apperrors.ExitCode(err), "input is checked before settings")
		})
	}
}

func TestArchiveConnectsOnlyForForwardedMessages(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "127.0.0.1")
	t.Setenv("POSTGRES_PORT", "1")

	_, err := execute(t, selfDoc, "archive")
	require.NoError(t, err)

	_, err = execute(t, sampleDoc, "archive")
	assert.Equal(t, apperrors.ExitDownstream, apperrors.ExitCode(err))
}

func TestBunkerLifecycle(t *testing.T) {
	t.Setenv("NOSTR_NSEC", "")

	db := filepath.Join(t.TempDir(), "marmot.db")
	uri := "bunker://" + signerPubkey + "?relay=wss://relay.nsec.app&secret=abc"

	out, err := execute(t, "", "bunker", "set", uri, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "fa984bd7dbb282f0")

	out, err = execute(t, "", "bunker", "connected", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Connection recorded")

	out, err = execute(t, "", "signer-status", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Mode: bunker")
	assert.Contains(t, out, "Remote signer: "+signerPubkey)
	assert.Contains(t, out, "wss://relay.nsec.app")
	assert.NotContains(t, out, "Last connected: never")
	assert.Contains(t, out, "bunker_set")
	assert.Contains(t, out, "bunker_connect")

	_, err = execute(t, "", "bunker", "clear", "--db", db)
	require.NoError(t, err)

	out, err = execute(t, "", "signer-status", "--db", db, "--audit", "0")
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
	assert.Contains(t, out, "Mode: none")
}

func TestBunkerSetRejectsClientURI(t *testing.T) {
	db := filepath.Join(t.TempDir(), "marmot.db")

	_, err := execute(t, "", "bunker", "set", "nostrconnect://"+signerPubkey+"?relay=wss://relay.nsec.app", "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nostrconnect")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(db), "marmot.bunker.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignerStatusDirectMode(t *testing.T) {
	t.Setenv("NOSTR_NSEC", "nsec1example")

	out, err := execute(t, "", "signer-status", "--db", filepath.Join(t.TempDir(), "marmot.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "Mode: direct")
	assert.Contains(t, out, "none")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandHome("~/.marmot-cli/marmot.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".marmot-cli", "marmot.db"), got)

	got, err = expandHome("/var/lib/marmot.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/marmot.db", got)
}

type fakeDaemon struct {
	runErr    error
	shutdowns int
}

func (d *fakeDaemon) Run(ctx context.Context) error {
	if d.runErr != nil {
		return d.runErr
	}

	<-ctx.Done()

	return nil
}

func (d *fakeDaemon) Shutdown() error {
	d.shutdowns++
	return nil
}

func TestRunDaemonShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &fakeDaemon{}
	require.NoError(t, runDaemon(ctx, zap.NewNop(), d))
	assert.Equal(t, 1, d.shutdowns)
}

func TestRunDaemonReturnsRunError(t *testing.T) {
	boom := errors.New("listen tcp: address already in use")

	d := &fakeDaemon{runErr: boom}
	err := runDaemon(context.Background(), zap.NewNop(), d)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, d.shutdowns)
}

func TestRelayWithoutConfigIsConfigError(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	_, err := execute(t, "", "relay")
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))

	_, err = execute(t, "", "inbox", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
}
