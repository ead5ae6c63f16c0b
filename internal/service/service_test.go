package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/hook"
	"github.com/kai-familiar/marmot-cli/internal/model"
	"github.com/kai-familiar/marmot-cli/internal/repository"
	"github.com/kai-familiar/marmot-cli/pkg/jwt"
	"github.com/kai-familiar/marmot-cli/pkg/mailer"
)

const sampleDoc = `{"message_id":"abc123","group_id":"g1","group_name":"Test","sender":"npub1xyz","content":"hi","timestamp":1770000000,"is_me":false}`

func envelope(t *testing.T, doc string) *model.Envelope {
	t.Helper()

	env, err := model.Decode([]byte(doc))
	require.NoError(t, err)

	return env
}

func fakeEnvelope(t *testing.T, isMe bool) *model.Envelope {
	t.Helper()

	env, err := model.NewEnvelope(model.Notification{
		MessageID: gofakeit.UUID(),
		GroupID:   gofakeit.HexUint(256),
		GroupName: gofakeit.Company(),
		Sender:    "npub1" + gofakeit.LetterN(58),
		SenderHex: gofakeit.HexUint(256),
		Content:   gofakeit.Phrase(),
		Timestamp: model.UnixTimestamp(time.Now().Unix()),
		IsMe:      isMe,
	})
	require.NoError(t, err)

	return env
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())

	return lines
}

func TestLogFileAppendsLineAndSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	var out bytes.Buffer

	svc := NewLogFileService(zap.NewNop(), path, &out)
	svc.now = func() time.Time { return time.Date(2026, 2, 2, 2, 40, 0, 0, time.UTC) }

	require.NoError(t, svc.Handle(context.Background(), envelope(t, sampleDoc)))

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &fields))
	assert.Equal(t, "2026-02-02T02:40:00Z", fields[model.LoggedAtField])
	assert.Equal(t, "abc123", fields["message_id"])
	assert.Equal(t, "hi", fields["content"])

	assert.Equal(t, "[Test] npub1xyz: hi\n", out.String())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestLogFileNoDeduplication(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	svc := NewLogFileService(zap.NewNop(), path, io.Discard)

	env := envelope(t, sampleDoc)
	require.NoError(t, svc.Handle(context.Background(), env))
	require.NoError(t, svc.Handle(context.Background(), env))

	assert.Len(t, readLines(t, path), 2)
}

func TestLogFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	svc := NewLogFileService(zap.NewNop(), path, io.Discard)

	env := fakeEnvelope(t, true)
	require.NoError(t, svc.Handle(context.Background(), env))

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &fields))
	delete(fields, model.LoggedAtField)

	stripped, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.JSONEq(t, string(env.Body), string(stripped))
}

func TestLogFileMalformedWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	var out bytes.Buffer
	svc := NewLogFileService(zap.NewNop(), path, &out)

	err := hook.NewRunner(zap.NewNop(), 0).Run(context.Background(), strings.NewReader(`{"message_id":"abc`), svc)
	require.Error(t, err)
	assert.Equal(t, apperrors.ExitInput, apperrors.ExitCode(err))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, out.String())
}

func TestLogFileConcurrentWritersKeepLinesWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl")

	envs := make([]*model.Envelope, 16)
	for i := range envs {
		envs[i] = fakeEnvelope(t, false)
	}

	var wg sync.WaitGroup
	for _, env := range envs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc := NewLogFileService(zap.NewNop(), path, io.Discard)
			assert.NoError(t, svc.Handle(context.Background(), env))
		}()
	}
	wg.Wait()

	lines := readLines(t, path)
	require.Len(t, lines, 16)
	for _, line := range lines {
		_, err := model.Decode([]byte(line))
		assert.NoError(t, err)
	}
}

func TestLogFileUnwritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "messages.jsonl")
	svc := NewLogFileService(zap.NewNop(), path, io.Discard)

	err := svc.Handle(context.Background(), envelope(t, sampleDoc))
	require.Error(t, err)
	assert.Equal(t, apperrors.ExitDownstream, apperrors.ExitCode(err))
}

func TestWebhookForwardsOriginalDocument(t *testing.T) {
	secret := "s3cret"

	var (
		got    []byte
		header http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		header = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	svc, err := NewWebhookService(zap.NewNop(), WebhookConfig{URL: srv.URL, Secret: secret, UserAgent: "marmot-hook/test"})
	require.NoError(t, err)

	require.NoError(t, svc.Handle(context.Background(), envelope(t, sampleDoc)))

	assert.JSONEq(t, sampleDoc, string(got))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "marmot-hook/test", header.Get("User-Agent"))
	assert.Equal(t, "abc123", header.Get(HeaderMessageID))

	token := strings.TrimPrefix(header.Get("Authorization"), "Bearer ")
	claims, err := jwt.ValidateToken(token, []byte(secret))
	require.NoError(t, err)
	assert.Equal(t, "abc123", claims["message_id"])
	assert.Equal(t, "g1", claims["group_id"])
}

func TestWebhookSkipsOwnMessages(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	svc, err := NewWebhookService(zap.NewNop(), WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	self := strings.Replace(sampleDoc, `"is_me":false`, `"is_me":true`, 1)

	err = hook.NewRunner(zap.NewNop(), 0).Run(context.Background(), strings.NewReader(self), hook.SkipSelf(zap.NewNop(), svc))
	require.NoError(t, err)
	assert.Zero(t, requests.Load())
}

func TestWebhookNon2xxIsDownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, err := NewWebhookService(zap.NewNop(), WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	err = svc.Handle(context.Background(), envelope(t, sampleDoc))
	require.Error(t, err)
	assert.Equal(t, apperrors.ExitDownstream, apperrors.ExitCode(err))
}

func TestWebhookUnreachableIsDownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc, err := NewWebhookService(zap.NewNop(), WebhookConfig{URL: url, Timeout: time.Second})
	require.NoError(t, err)

	err = svc.Handle(context.Background(), envelope(t, sampleDoc))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDownstream)
}

func TestWebhookConfigErrors(t *testing.T) {
	_, err := NewWebhookService(zap.NewNop(), WebhookConfig{})
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))

	_, err = NewWebhookService(zap.NewNop(), WebhookConfig{URL: "ftp://example.org"})
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
}

type fakeRunner struct {
	name   string
	args   []string
	output string
	err    error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.name = name
	r.args = args
	return r.output, r.err
}

func TestEchoSendsToSameGroup(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewEchoService(zap.NewNop(), EchoConfig{CLIArgs: []string{"--db", "bot.db"}, Prefix: DefaultEchoPrefix}, runner)

	require.NoError(t, svc.Handle(context.Background(), envelope(t, sampleDoc)))

	assert.Equal(t, DefaultEchoCLI, runner.name)
	assert.Equal(t, []string{"--db", "bot.db", "send", "-g", "g1", "Echo: hi"}, runner.args)
}

func TestEchoChildFailure(t *testing.T) {
	runner := &fakeRunner{output: "relay unreachable", err: errors.New("exit status 1")}
	svc := NewEchoService(zap.NewNop(), EchoConfig{}, runner)

	err := svc.Handle(context.Background(), envelope(t, sampleDoc))
	require.Error(t, err)
	assert.Equal(t, apperrors.ExitDownstream, apperrors.ExitCode(err))
	assert.Contains(t, err.Error(), "relay unreachable")
}

func TestEchoIgnoresOwnMessages(t *testing.T) {
	runner := &fakeRunner{}
	action := hook.SkipSelf(zap.NewNop(), NewEchoService(zap.NewNop(), EchoConfig{}, runner))

	require.NoError(t, action.Handle(context.Background(), fakeEnvelope(t, true)))
	assert.Empty(t, runner.name)
}

type fakeProducer struct {
	key, value []byte
	topic      string
	err        error
}

func (p *fakeProducer) PushMessage(_ context.Context, key, value []byte, topic string) (int32, int64, error) {
	p.key, p.value, p.topic = key, value, topic
	return 0, 1, p.err
}

func (p *fakeProducer) Close() error { return nil }

func TestKafkaKeysByMessageID(t *testing.T) {
	producer := &fakeProducer{}
	svc, err := NewKafkaService(zap.NewNop(), producer, DefaultKafkaTopic)
	require.NoError(t, err)

	require.NoError(t, svc.Handle(context.Background(), envelope(t, sampleDoc)))
	assert.Equal(t, "abc123", string(producer.key))
	assert.JSONEq(t, sampleDoc, string(producer.value))
	assert.Equal(t, DefaultKafkaTopic, producer.topic)

	producer.err = errors.New("leader not available")
	err = svc.Handle(context.Background(), envelope(t, sampleDoc))
	assert.Equal(t, apperrors.ExitDownstream, apperrors.ExitCode(err))
}

type fakeChannel struct {
	channel string
	payload []byte
	history int64
}

func (s *fakeChannel) Publish(_ context.Context, channel string, payload []byte, history int64) (int64, error) {
	s.channel, s.payload, s.history = channel, payload, history
	return 1, nil
}

func TestRedisPublishes(t *testing.T) {
	channel := &fakeChannel{}
	svc, err := NewRedisService(zap.NewNop(), channel, DefaultRedisChannel, 100)
	require.NoError(t, err)

	require.NoError(t, svc.Handle(context.Background(), envelope(t, sampleDoc)))
	assert.Equal(t, DefaultRedisChannel, channel.channel)
	assert.Equal(t, int64(100), channel.history)
	assert.JSONEq(t, sampleDoc, string(channel.payload))
	assert.Equal(t, "marmot:notifications:history", repository.HistoryKey(channel.channel))
}

type fakeArchive struct {
	seen map[string]*model.Record
}

func (a *fakeArchive) InsertNotification(_ context.Context, _ repository.RepoExtension, rec *model.Record) (bool, error) {
	if _, ok := a.seen[rec.MessageID]; ok {
		return false, nil
	}
	a.seen[rec.MessageID] = rec
	return true, nil
}

func TestArchiveDuplicateIsNotAnError(t *testing.T) {
	archive := &fakeArchive{seen: map[string]*model.Record{}}
	svc := NewArchiveService(zap.NewNop(), archive)

	env := envelope(t, sampleDoc)
	require.NoError(t, svc.Handle(context.Background(), env))
	require.NoError(t, svc.Handle(context.Background(), env))

	require.Len(t, archive.seen, 1)
	rec := archive.seen["abc123"]
	require.NotNil(t, rec.SentAt)
	assert.Equal(t, int64(1770000000), rec.SentAt.Unix())
	assert.JSONEq(t, sampleDoc, string(rec.Payload))
}

type fakeDocuments struct {
	err error
}

func (d *fakeDocuments) InsertNotification(context.Context, *model.Record) (bool, error) {
	return false, d.err
}

func TestDocumentFailure(t *testing.T) {
	svc := NewDocumentService(zap.NewNop(), &fakeDocuments{})
	require.NoError(t, svc.Handle(context.Background(), envelope(t, sampleDoc)))

	svc = NewDocumentService(zap.NewNop(), &fakeDocuments{err: errors.New("no primary")})
	err := svc.Handle(context.Background(), envelope(t, sampleDoc))
	assert.Equal(t, apperrors.ExitDownstream, apperrors.ExitCode(err))
}

type fakeIndex struct {
	ensured int
	indexed []*model.Record
}

func (i *fakeIndex) EnsureIndex(context.Context) error {
	i.ensured++
	return nil
}

func (i *fakeIndex) IndexNotification(_ context.Context, rec *model.Record) error {
	i.indexed = append(i.indexed, rec)
	return nil
}

func TestIndexEnsuresBeforeIndexing(t *testing.T) {
	idx := &fakeIndex{}
	svc := NewIndexService(zap.NewNop(), idx)

	require.NoError(t, svc.Handle(context.Background(), envelope(t, sampleDoc)))
	assert.Equal(t, 1, idx.ensured)
	require.Len(t, idx.indexed, 1)
	assert.Equal(t, "abc123", idx.indexed[0].MessageID)
}

type fakeMailer struct {
	to            []string
	subject, body string
}

func (m *fakeMailer) Send(_ context.Context, msg *mailer.Message) error {
	m.to, m.subject, m.body = msg.To, msg.Subject, msg.HTML
	return nil
}

func TestMailSubject(t *testing.T) {
	m := &fakeMailer{}
	svc, err := NewMailService(zap.NewNop(), m, "ops@example.org, alerts@example.org", "")
	require.NoError(t, err)

	doc := strings.Replace(sampleDoc, `"group_name":"Test"`, `"group_name":"Ops\r\nBcc: x@example.org"`, 1)
	doc = strings.Replace(doc, `"content":"hi"`, `"content":"<script>alert(1)</script>"`, 1)
	require.NoError(t, svc.Handle(context.Background(), envelope(t, doc)))

	assert.Equal(t, []string{"ops@example.org", "alerts@example.org"}, m.to)
	assert.Equal(t, "New message in Ops  Bcc: x@example.org", m.subject)
	assert.NotContains(t, m.subject, "\n")
	assert.Contains(t, m.body, "npub1xyz")
	assert.Contains(t, m.body, "message abc123")
	assert.NotContains(t, m.body, "<script>")

	_, err = NewMailService(zap.NewNop(), m, " , ", "")
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
}
