package httpapi_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Vigil/server/internal/httpapi"
	"github.com/BrandonDHaskell/Vigil/server/internal/metrics"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/capture"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/credential"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/mailbox"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/pipeline"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/service"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store/memory"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/types"
)

// heldRunner keeps every run open until the test closes release.
type heldRunner struct {
	release chan struct{}
}

func (r *heldRunner) Run(context.Context) pipeline.Outcome {
	<-r.release
	return pipeline.Outcome{Kind: pipeline.ConditionNotMet}
}

type fakeCapturer struct {
	frame capture.Frame
	err   error
}

func (f *fakeCapturer) Capture(context.Context) (capture.Frame, error)  { return f.frame, f.err }
func (f *fakeCapturer) Snapshot(context.Context) (capture.Frame, error) { return f.frame, f.err }

type testEnv struct {
	ts       *httptest.Server
	runner   *heldRunner
	capturer *fakeCapturer
}

// newTestServer wires the full dependency graph on in-memory stores and
// returns an httptest.Server.
func newTestServer(t *testing.T, exposeCredentials bool) *testEnv {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	runner := &heldRunner{release: make(chan struct{})}
	capturer := &fakeCapturer{frame: capture.Frame{Data: []byte{0xff, 0xd8, 0xff}, URL: "http://cam/capture"}}

	triggers := service.NewTriggerService(service.TriggerDependencies{
		Runner:   runner,
		Runs:     memory.NewRunStore(),
		Recorder: m,
		Logger:   logger,
	})
	creds := service.NewCredentialService(credential.NewStore(0), memory.NewAccessEventStore(), m, nil, logger)
	commands := service.NewCommandService(mailbox.New(mailbox.DefaultCapacity), capturer, m, nil, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:            logger,
		Addr:              ":0",
		TriggerService:    triggers,
		CredentialService: creds,
		CommandService:    commands,
		MetricsHandler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ExposeCredentials: exposeCredentials,
	})

	ts := httptest.NewServer(srv.Handler())
	env := &testEnv{ts: ts, runner: runner, capturer: capturer}
	t.Cleanup(func() {
		ts.Close()
		select {
		case <-runner.release:
		default:
			close(runner.release)
		}
		triggers.Close(context.Background())
		commands.Close()
	})
	return env
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func readText(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

// ── Trigger ──────────────────────────────────────────────────────────────────

func TestTrigger_AcceptedThenBusy(t *testing.T) {
	env := newTestServer(t, false)

	resp := postJSON(t, env.ts.URL+"/v1/trigger", `{"action":"motion_detected","device":"door"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var first types.TriggerResponse
	decode(t, resp, &first)
	if first.Status != types.TriggerAccepted {
		t.Fatalf("expected accepted, got %q", first.Status)
	}

	resp = postJSON(t, env.ts.URL+"/trigger", `{"action":"motion_detected","extra":"ignored"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for busy, got %d", resp.StatusCode)
	}
	var second types.TriggerResponse
	decode(t, resp, &second)
	if second.Status != types.TriggerBusy {
		t.Errorf("expected busy, got %q", second.Status)
	}

	var health types.HealthResponse
	decode(t, get(t, env.ts.URL+"/health"), &health)
	if !health.CaptureBusy {
		t.Error("expected health to report capture busy")
	}
}

func TestTrigger_EmptyBodyAccepted(t *testing.T) {
	env := newTestServer(t, false)

	resp, err := http.Post(env.ts.URL+"/v1/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var tr types.TriggerResponse
	decode(t, resp, &tr)
	if tr.Status != types.TriggerAccepted {
		t.Errorf("expected accepted, got %q", tr.Status)
	}
}

func TestTrigger_StrictRejectsUnknownFields(t *testing.T) {
	env := newTestServer(t, false)

	resp := postJSON(t, env.ts.URL+"/v1/trigger", `{"bogus":true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTrigger_Protobuf(t *testing.T) {
	env := newTestServer(t, false)

	in, err := structpb.NewStruct(map[string]any{"action": "motion_detected", "device": "door"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	body, err := proto.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(env.ts.URL+"/v1/trigger", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf response, got %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := out.GetFields()["status"].GetStringValue(); got != types.TriggerAccepted {
		t.Errorf("expected accepted, got %q", got)
	}
}

// ── Credentials ──────────────────────────────────────────────────────────────

func TestCredentials_IssueVerifyReplay(t *testing.T) {
	env := newTestServer(t, false)

	var issued types.IssueCredentialResponse
	decode(t, postJSON(t, env.ts.URL+"/v1/credentials", ``), &issued)
	if len(issued.Code) != credential.CodeLength {
		t.Fatalf("unexpected code %q", issued.Code)
	}
	if issued.TempPassword != "" {
		t.Error("temp_password belongs to the legacy route only")
	}

	var first types.VerifyCredentialResponse
	decode(t, postJSON(t, env.ts.URL+"/v1/credentials/verify", `{"code":"`+issued.Code+`"}`), &first)
	if !first.Valid {
		t.Error("expected first verification valid")
	}

	var replay types.VerifyCredentialResponse
	decode(t, postJSON(t, env.ts.URL+"/verify_temp_password", `{"password":"`+issued.Code+`"}`), &replay)
	if replay.Valid {
		t.Error("expected replay invalid")
	}
}

func TestCredentials_LegacyIssueCarriesTempPassword(t *testing.T) {
	env := newTestServer(t, false)

	var issued types.IssueCredentialResponse
	decode(t, postJSON(t, env.ts.URL+"/generate_temp_password", `{}`), &issued)
	if issued.TempPassword == "" || issued.TempPassword != issued.Code {
		t.Errorf("expected temp_password=%q, got %q", issued.Code, issued.TempPassword)
	}
}

func TestCredentials_EmptyCode_400(t *testing.T) {
	env := newTestServer(t, false)

	for _, body := range []string{`{}`, `{"password":""}`, `{"code":"abc"}`} {
		resp := postJSON(t, env.ts.URL+"/v1/credentials/verify", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestCredentials_ListingOnlyWhenExposed(t *testing.T) {
	hidden := newTestServer(t, false)
	resp := get(t, hidden.ts.URL+"/v1/credentials")
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("listing should not be mounted")
	}

	dev := newTestServer(t, true)
	var issued types.IssueCredentialResponse
	decode(t, postJSON(t, dev.ts.URL+"/v1/credentials", ``), &issued)

	var list types.OutstandingCredentialsResponse
	decode(t, get(t, dev.ts.URL+"/list_temp_passwords"), &list)
	if list.Count != 1 || list.Codes[0] != issued.Code {
		t.Errorf("unexpected listing %+v", list)
	}
}

// ── Commands ─────────────────────────────────────────────────────────────────

func TestCommands_EnqueueAndPoll(t *testing.T) {
	env := newTestServer(t, false)

	var empty types.PollCommandResponse
	decode(t, get(t, env.ts.URL+"/v1/commands/next"), &empty)
	if empty.HasCommand {
		t.Fatal("expected empty mailbox")
	}

	var queued types.EnqueueCommandResponse
	decode(t, postJSON(t, env.ts.URL+"/v1/commands", `{"command":"display_text","text":"back soon"}`), &queued)
	if queued.Command != "display_text:back soon" {
		t.Errorf("unexpected queued command %q", queued.Command)
	}

	resp := get(t, env.ts.URL+"/unlock")
	if got := readText(t, resp); got != "Command received: unlock" {
		t.Errorf("unexpected shortcut body %q", got)
	}

	var next types.PollCommandResponse
	decode(t, get(t, env.ts.URL+"/get_mobile_command"), &next)
	if !next.HasCommand || next.Command != "display_text:back soon" {
		t.Errorf("expected display_text first, got %+v", next)
	}
	decode(t, get(t, env.ts.URL+"/v1/commands/next"), &next)
	if next.Command != "unlock" {
		t.Errorf("expected unlock second, got %+v", next)
	}
}

func TestCommands_Invalid_400(t *testing.T) {
	env := newTestServer(t, false)

	for _, body := range []string{`{"command":"explode"}`, `{"command":"display_text"}`, `{"command":""}`} {
		resp := postJSON(t, env.ts.URL+"/v1/commands", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestCommands_ChangePasswordShortcut(t *testing.T) {
	env := newTestServer(t, false)

	cases := map[string]int{
		"/change_password":               http.StatusBadRequest,
		"/change_password?password=12x4": http.StatusBadRequest,
		"/change_password?password=2468": http.StatusOK,
	}
	for path, want := range cases {
		resp := get(t, env.ts.URL+path)
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}

	var next types.PollCommandResponse
	decode(t, get(t, env.ts.URL+"/v1/commands/next"), &next)
	if next.Command != "change_password:2468" {
		t.Errorf("expected change_password:2468, got %q", next.Command)
	}
}

func TestCommands_TakePhotoReturnsImage(t *testing.T) {
	env := newTestServer(t, false)

	var photo types.TakePhotoResponse
	decode(t, postJSON(t, env.ts.URL+"/mobile_command", `{"command":"take_photo"}`), &photo)
	data, err := base64.StdEncoding.DecodeString(photo.ImageBase64)
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if !bytes.Equal(data, env.capturer.frame.Data) || photo.ImageSize != len(data) {
		t.Errorf("unexpected photo %+v", photo)
	}

	var next types.PollCommandResponse
	decode(t, get(t, env.ts.URL+"/v1/commands/next"), &next)
	if next.HasCommand {
		t.Error("take_photo from the app must not be queued")
	}
}

func TestCommands_TakePhotoVariantsNotQueued(t *testing.T) {
	env := newTestServer(t, false)

	for _, body := range []string{`{"command":" take_photo "}`, `{"command":"take_photo:"}`} {
		var photo types.TakePhotoResponse
		decode(t, postJSON(t, env.ts.URL+"/v1/commands", body), &photo)
		if photo.ImageBase64 == "" {
			t.Errorf("%s: expected an immediate photo, got %+v", body, photo)
		}
	}

	var next types.PollCommandResponse
	decode(t, get(t, env.ts.URL+"/v1/commands/next"), &next)
	if next.HasCommand {
		t.Errorf("take_photo variant was queued: %+v", next)
	}
}

func TestCommands_TakePhotoUnavailable_503(t *testing.T) {
	env := newTestServer(t, false)
	env.capturer.err = capture.ErrSourceUnavailable

	resp := postJSON(t, env.ts.URL+"/v1/commands", `{"command":"take_photo"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestCommands_TakePhotoShortcutQueues(t *testing.T) {
	env := newTestServer(t, false)

	resp := get(t, env.ts.URL+"/take_photo")
	if got := readText(t, resp); !strings.HasPrefix(got, "Command received: take_photo") {
		t.Errorf("unexpected body %q", got)
	}

	var next types.PollCommandResponse
	decode(t, get(t, env.ts.URL+"/v1/commands/next"), &next)
	if next.Command != "take_photo" {
		t.Errorf("expected queued take_photo, got %+v", next)
	}
}

// ── Health / metrics ─────────────────────────────────────────────────────────

func TestHealth_Idle(t *testing.T) {
	env := newTestServer(t, false)

	var h types.HealthResponse
	decode(t, get(t, env.ts.URL+"/health"), &h)
	if h.Status != "ok" || h.CaptureBusy || h.Pending != 0 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestMetrics_Exposed(t *testing.T) {
	env := newTestServer(t, false)

	postJSON(t, env.ts.URL+"/v1/trigger", ``).Body.Close()

	body := readText(t, get(t, env.ts.URL+"/metrics"))
	if !strings.Contains(body, `vigil_triggers_total{result="accepted"} 1`) {
		t.Errorf("expected trigger counter in metrics output")
	}
}
