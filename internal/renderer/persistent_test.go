package renderer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProc is an in-memory persistent renderer wired through io.Pipe.
type fakeProc struct {
	reqs    chan wireRequest
	stdout  *io.PipeWriter
	stdin   *io.PipeReader
	writeMu sync.Mutex
	stopped atomic.Bool
}

func (f *fakeProc) respond(resp wireResponse) {
	line, _ := json.Marshal(resp)
	f.writeRaw(string(line) + "\n")
}

func (f *fakeProc) writeRaw(s string) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_, _ = io.WriteString(f.stdout, s)
}

// crash closes the output stream as an exiting process would.
func (f *fakeProc) crash() {
	_ = f.stdout.Close()
}

// fakeLauncher records launches. With a handler, each request is answered
// by the handler; without one, requests queue on the process's reqs channel.
type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProc
	fail     error
	handler  func(p *fakeProc, req wireRequest)
	launches atomic.Int32
}

func (l *fakeLauncher) launch() (*Conn, error) {
	l.launches.Add(1)
	if l.fail != nil {
		return nil, l.fail
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p := &fakeProc{reqs: make(chan wireRequest, 64), stdout: outW, stdin: inR}

	go func() {
		sc := bufio.NewScanner(inR)
		for sc.Scan() {
			var req wireRequest
			if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
				continue
			}
			if h := l.getHandler(); h != nil {
				go h(p, req)
			} else {
				p.reqs <- req
			}
		}
	}()

	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()

	return &Conn{
		Stdin:  inW,
		Stdout: outR,
		Stop: func() error {
			p.stopped.Store(true)
			_ = inR.Close()
			_ = outW.Close()
			return nil
		},
	}, nil
}

func (l *fakeLauncher) getHandler() func(*fakeProc, wireRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler
}

func (l *fakeLauncher) setHandler(h func(*fakeProc, wireRequest)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// proc waits for the i-th launched process.
func (l *fakeLauncher) proc(t *testing.T, i int) *fakeProc {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		if len(l.procs) > i {
			p := l.procs[i]
			l.mu.Unlock()
			return p
		}
		l.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("process %d was never launched", i)
	return nil
}

func echoHandler(p *fakeProc, req wireRequest) {
	p.respond(wireResponse{ID: req.ID, OK: true, SVG: "<svg>" + req.Diagram + "</svg>"})
}

func newTestPersistent(t *testing.T, l *fakeLauncher, opts PersistentOptions) *Persistent {
	t.Helper()

	opts.Launcher = l.launch
	p, err := NewPersistent(opts)
	if err != nil {
		t.Fatalf("NewPersistent() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func nextRequest(t *testing.T, p *fakeProc) wireRequest {
	t.Helper()

	select {
	case req := <-p.reqs:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("renderer never received a request")
		return wireRequest{}
	}
}

type renderOutcome struct {
	svg string
	err error
}

func renderAsync(p *Persistent, req Request) <-chan renderOutcome {
	out := make(chan renderOutcome, 1)
	go func() {
		svg, err := p.Render(context.Background(), req)
		out <- renderOutcome{svg, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan renderOutcome) renderOutcome {
	t.Helper()

	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("Render() never returned")
		return renderOutcome{}
	}
}

// ---------------------------------------------------------------------------
// TestPersistent - Request/response correlation
// ---------------------------------------------------------------------------

func TestNewPersistent_RequiresLauncher(t *testing.T) {
	t.Parallel()

	if _, err := NewPersistent(PersistentOptions{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("NewPersistent() error = %v, want ErrUnavailable", err)
	}
}

func TestPersistent_Render(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{handler: echoHandler}
	p := newTestPersistent(t, l, PersistentOptions{})

	if p.State() != StateIdle {
		t.Errorf("State() = %v before first request, want idle", p.State())
	}

	for i := 0; i < 3; i++ {
		svg, err := p.Render(context.Background(), NewRequest(fmt.Sprintf("graph %d", i), nil))
		if err != nil {
			t.Fatalf("Render() unexpected error: %v", err)
		}
		if want := fmt.Sprintf("<svg>graph %d</svg>", i); svg != want {
			t.Errorf("Render() = %q, want %q", svg, want)
		}
	}

	if p.State() != StateRunning {
		t.Errorf("State() = %v, want running", p.State())
	}
	if n := l.launches.Load(); n != 1 {
		t.Errorf("launches = %d, want one reused process", n)
	}
}

func TestPersistent_SendsDefaultConfig(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	p := newTestPersistent(t, l, PersistentOptions{})

	out := renderAsync(p, NewRequest("graph TD", nil))
	req := nextRequest(t, l.proc(t, 0))

	flowchart, ok := req.Config["flowchart"].(map[string]any)
	if !ok || flowchart["htmlLabels"] != false {
		t.Errorf("request config = %v, want the default config", req.Config)
	}
	l.proc(t, 0).respond(wireResponse{ID: req.ID, OK: true, SVG: "<svg/>"})
	await(t, out)
}

func TestPersistent_RenderFailed(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{handler: func(p *fakeProc, req wireRequest) {
		p.respond(wireResponse{ID: req.ID, OK: false, Error: "Parse error on line 2"})
	}}
	p := newTestPersistent(t, l, PersistentOptions{})

	_, err := p.Render(context.Background(), NewRequest("graph TD\n!!", nil))
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("Render() error = %v, want ErrFailed", err)
	}
	if got := err.Error(); got != "render failed: Parse error on line 2" {
		t.Errorf("error = %q", got)
	}
	if p.State() != StateRunning {
		t.Errorf("State() = %v after a failed render, want running", p.State())
	}
}

func TestPersistent_TimeoutCorrelation(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	p := newTestPersistent(t, l, PersistentOptions{Timeout: 100 * time.Millisecond})

	// r1 never gets an answer in time.
	r1 := NewRequest("first", nil)
	start := time.Now()
	_, err := p.Render(context.Background(), r1)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Render(r1) error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Render(r1) returned after %v, want about the 100ms timeout", elapsed)
	}

	proc := l.proc(t, 0)
	if got := nextRequest(t, proc); got.ID != r1.ID {
		t.Fatalf("renderer saw %q, want r1", got.ID)
	}

	// r2 is in flight when r1's late answer shows up.
	r2 := NewRequest("second", nil)
	out := renderAsync(p, r2)
	if got := nextRequest(t, proc); got.ID != r2.ID {
		t.Fatalf("renderer saw %q, want r2", got.ID)
	}

	proc.respond(wireResponse{ID: r1.ID, OK: true, SVG: "<svg>late r1</svg>"})
	proc.respond(wireResponse{ID: r2.ID, OK: true, SVG: "<svg>r2</svg>"})

	o := await(t, out)
	if o.err != nil || o.svg != "<svg>r2</svg>" {
		t.Errorf("Render(r2) = (%q, %v), want r2's own response", o.svg, o.err)
	}
	if p.State() != StateRunning {
		t.Errorf("State() = %v, want running", p.State())
	}

	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	s.mu.Lock()
	abandoned := len(s.abandoned)
	s.mu.Unlock()
	if abandoned != 0 {
		t.Errorf("abandoned ids = %d after the late response was drained, want 0", abandoned)
	}
}

func TestPersistent_OutOfOrderResponses(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	p := newTestPersistent(t, l, PersistentOptions{})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	proc := l.proc(t, 0)

	const n = 5
	outs := make([]<-chan renderOutcome, n)
	for i := 0; i < n; i++ {
		outs[i] = renderAsync(p, NewRequest(fmt.Sprintf("diagram-%d", i), nil))
	}

	reqs := make([]wireRequest, n)
	for i := range reqs {
		reqs[i] = nextRequest(t, proc)
	}
	for i := n - 1; i >= 0; i-- {
		proc.respond(wireResponse{ID: reqs[i].ID, OK: true, SVG: "<svg>" + reqs[i].Diagram + "</svg>"})
	}

	for i, out := range outs {
		o := await(t, out)
		if want := fmt.Sprintf("<svg>diagram-%d</svg>", i); o.err != nil || o.svg != want {
			t.Errorf("request %d = (%q, %v), want %q", i, o.svg, o.err, want)
		}
	}
}

func TestPersistent_IgnoresUnknownAndMalformedLines(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	p := newTestPersistent(t, l, PersistentOptions{})

	req := NewRequest("graph TD", nil)
	out := renderAsync(p, req)
	proc := l.proc(t, 0)
	nextRequest(t, proc)

	proc.writeRaw("this is not json\n")
	proc.writeRaw("\n")
	proc.writeRaw(`{"ok":true,"svg":"<svg>no id</svg>"}` + "\n")
	proc.respond(wireResponse{ID: "someone-else", OK: true, SVG: "<svg>stray</svg>"})
	proc.writeRaw(fmt.Sprintf(`{"id":%q,"ok":true,"svg":"<svg>mine</svg>","future":{"x":1}}`+"\n", req.ID))

	o := await(t, out)
	if o.err != nil || o.svg != "<svg>mine</svg>" {
		t.Errorf("Render() = (%q, %v), want the matching response", o.svg, o.err)
	}
}

// ---------------------------------------------------------------------------
// TestPersistent - Crash recovery
// ---------------------------------------------------------------------------

func TestPersistent_CrashFailsOutstandingAndRestarts(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	p := newTestPersistent(t, l, PersistentOptions{})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	first := l.proc(t, 0)

	a := renderAsync(p, NewRequest("a", nil))
	b := renderAsync(p, NewRequest("b", nil))
	nextRequest(t, first)
	nextRequest(t, first)

	first.crash()

	for _, out := range []<-chan renderOutcome{a, b} {
		if o := await(t, out); !errors.Is(o.err, ErrCrashed) {
			t.Errorf("outstanding Render() error = %v, want ErrCrashed", o.err)
		}
	}
	if !first.stopped.Load() {
		t.Error("crashed process was not stopped")
	}

	// The next request relaunches transparently.
	c := renderAsync(p, NewRequest("c", nil))
	second := l.proc(t, 1)
	req := nextRequest(t, second)
	second.respond(wireResponse{ID: req.ID, OK: true, SVG: "<svg>c</svg>"})

	if o := await(t, c); o.err != nil || o.svg != "<svg>c</svg>" {
		t.Errorf("Render() after restart = (%q, %v)", o.svg, o.err)
	}
	if p.State() != StateRunning {
		t.Errorf("State() = %v, want running", p.State())
	}
}

func TestPersistent_RestartLimit(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{handler: func(p *fakeProc, _ wireRequest) { p.crash() }}
	p := newTestPersistent(t, l, PersistentOptions{MaxRestarts: 2, RestartWindow: time.Hour})

	// The first launch plus two restarts crash; the third restart is refused.
	for i := 0; i < 3; i++ {
		if _, err := p.Render(context.Background(), NewRequest("boom", nil)); !errors.Is(err, ErrCrashed) {
			t.Fatalf("Render() #%d error = %v, want ErrCrashed", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Render(context.Background(), NewRequest("boom", nil)); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Render() after limit error = %v, want ErrUnavailable", err)
		}
	}
	if p.State() != StateFailed {
		t.Errorf("State() = %v, want failed", p.State())
	}
	if n := l.launches.Load(); n != 3 {
		t.Errorf("launches = %d, want 3", n)
	}

	// Reset allows a fresh launch.
	l.setHandler(echoHandler)
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset() unexpected error: %v", err)
	}
	svg, err := p.Render(context.Background(), NewRequest("ok", nil))
	if err != nil || svg != "<svg>ok</svg>" {
		t.Errorf("Render() after Reset = (%q, %v)", svg, err)
	}
}

func TestPersistent_RestartWindowSlides(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{handler: func(p *fakeProc, _ wireRequest) { p.crash() }}
	p := newTestPersistent(t, l, PersistentOptions{MaxRestarts: 1, RestartWindow: time.Minute})

	now := time.Now()
	p.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, err := p.Render(context.Background(), NewRequest("boom", nil)); !errors.Is(err, ErrCrashed) {
			t.Fatalf("Render() #%d error = %v, want ErrCrashed", i, err)
		}
	}

	// The restart an hour ago no longer counts.
	now = now.Add(time.Hour)
	if _, err := p.Render(context.Background(), NewRequest("boom", nil)); !errors.Is(err, ErrCrashed) {
		t.Fatalf("Render() after window error = %v, want ErrCrashed from a fresh restart", err)
	}
}

func TestPersistent_LaunchFailure(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{fail: errors.New("exec: no such file")}
	p := newTestPersistent(t, l, PersistentOptions{MaxRestarts: 1})

	for i := 0; i < 4; i++ {
		if _, err := p.Render(context.Background(), NewRequest("x", nil)); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Render() #%d error = %v, want ErrUnavailable", i, err)
		}
	}
	if n := l.launches.Load(); n != 2 {
		t.Errorf("launches = %d, want the first attempt plus one restart", n)
	}
}

// ---------------------------------------------------------------------------
// TestPersistent - Cancel and Close
// ---------------------------------------------------------------------------

func TestPersistent_Cancel(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	p := newTestPersistent(t, l, PersistentOptions{})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	proc := l.proc(t, 0)

	req := NewRequest("slow", nil)
	out := renderAsync(p, req)
	nextRequest(t, proc)

	if !p.Cancel(req.ID) {
		t.Fatal("Cancel() = false for a pending request")
	}
	if o := await(t, out); !errors.Is(o.err, ErrCanceled) {
		t.Errorf("canceled Render() error = %v, want ErrCanceled", o.err)
	}
	if p.Cancel(req.ID) {
		t.Error("second Cancel() = true")
	}

	// The late answer is discarded and the process keeps serving.
	proc.respond(wireResponse{ID: req.ID, OK: true, SVG: "<svg>late</svg>"})
	next := renderAsync(p, NewRequest("next", nil))
	r := nextRequest(t, proc)
	proc.respond(wireResponse{ID: r.ID, OK: true, SVG: "<svg>next</svg>"})
	if o := await(t, next); o.svg != "<svg>next</svg>" {
		t.Errorf("Render() after cancel = (%q, %v)", o.svg, o.err)
	}
}

func TestSession_AbandonedIDsAreBounded(t *testing.T) {
	t.Parallel()

	s := newSession(&Conn{}, loggerOr(nil))
	ids := make([]string, maxAbandoned+10)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
		if _, err := s.register(ids[i]); err != nil {
			t.Fatal(err)
		}
		if !s.abandon(ids[i], ErrTimeout) {
			t.Fatalf("abandon(%s) = false", ids[i])
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.abandoned) != maxAbandoned {
		t.Errorf("abandoned ids = %d, want %d", len(s.abandoned), maxAbandoned)
	}
	if _, ok := s.abandoned[ids[0]]; ok {
		t.Error("oldest abandoned id still remembered")
	}
	if _, ok := s.abandoned[ids[len(ids)-1]]; !ok {
		t.Error("newest abandoned id forgotten")
	}
}

func TestSession_AnsweredIDsDoNotAccumulate(t *testing.T) {
	t.Parallel()

	s := newSession(&Conn{}, loggerOr(nil))
	for i := 0; i < 3*maxAbandoned; i++ {
		id := fmt.Sprintf("id-%d", i)
		if _, err := s.register(id); err != nil {
			t.Fatal(err)
		}
		s.abandon(id, ErrTimeout)
		s.deliver(wireResponse{ID: id, OK: true, SVG: "<svg/>"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.abandoned) != 0 {
		t.Errorf("abandoned ids = %d, want 0 after late responses", len(s.abandoned))
	}
	if len(s.order) > 2*maxAbandoned {
		t.Errorf("order holds %d ids, want at most %d", len(s.order), 2*maxAbandoned)
	}
}

func TestPersistent_Close(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	p := newTestPersistent(t, l, PersistentOptions{})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	proc := l.proc(t, 0)

	out := renderAsync(p, NewRequest("pending", nil))
	nextRequest(t, proc)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if o := await(t, out); !errors.Is(o.err, ErrClosed) {
		t.Errorf("pending Render() error = %v, want ErrClosed", o.err)
	}
	if !proc.stopped.Load() {
		t.Error("Close() did not stop the process")
	}
	if _, err := p.Render(context.Background(), NewRequest("x", nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Render() after Close error = %v, want ErrClosed", err)
	}
	if err := p.Reset(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reset() after Close error = %v, want ErrClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPersistent_EmptyDiagram(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{handler: echoHandler}
	p := newTestPersistent(t, l, PersistentOptions{})

	if _, err := p.Render(context.Background(), NewRequest("", nil)); !errors.Is(err, ErrEmptyDiagram) {
		t.Errorf("Render(empty) error = %v, want ErrEmptyDiagram", err)
	}
	if n := l.launches.Load(); n != 0 {
		t.Errorf("launches = %d, want none for an invalid request", n)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateIdle:       "idle",
		StateRunning:    "running",
		StateCrashed:    "crashed",
		StateRestarting: "restarting",
		StateFailed:     "failed",
		StateClosed:     "closed",
		State(42):       "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// TestCommandLauncher - Real process
// ---------------------------------------------------------------------------

func TestCommandLauncher(t *testing.T) {
	t.Setenv(helperEnv, "ndjson")

	p, err := NewPersistent(PersistentOptions{
		Launcher: CommandLauncher(helperCommand(t), nil, nil),
		Timeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = p.Close() }()

	svg, err := p.Render(context.Background(), NewRequest("graph TD", nil))
	if err != nil || svg != "<svg>graph TD</svg>" {
		t.Fatalf("Render() = (%q, %v)", svg, err)
	}

	if _, err := p.Render(context.Background(), NewRequest("invalid", nil)); !errors.Is(err, ErrFailed) {
		t.Errorf("Render(invalid) error = %v, want ErrFailed", err)
	}

	if _, err := p.Render(context.Background(), NewRequest("crash", nil)); !errors.Is(err, ErrCrashed) {
		t.Errorf("Render(crash) error = %v, want ErrCrashed", err)
	}

	svg, err = p.Render(context.Background(), NewRequest("again", nil))
	if err != nil || svg != "<svg>again</svg>" {
		t.Errorf("Render() after crash = (%q, %v)", svg, err)
	}
}

func TestCommandLauncher_MissingBinary(t *testing.T) {
	t.Parallel()

	launch := CommandLauncher("/nonexistent/mmd2svg-renderer", nil, nil)
	if _, err := launch(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("launch() error = %v, want ErrUnavailable", err)
	}
}
