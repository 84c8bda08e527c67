package renderer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// State is the lifecycle state of a Persistent renderer.
type State int

const (
	StateIdle       State = iota // no process launched yet
	StateRunning                 // process up and serving requests
	StateCrashed                 // process exited; next request restarts it
	StateRestarting              // relaunch in progress
	StateFailed                  // restart limit reached; Reset required
	StateClosed                  // Close called
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Restart policy defaults.
const (
	DefaultMaxRestarts   = 3
	DefaultRestartWindow = time.Minute
)

// maxResponseLine bounds one response line; SVG for large diagrams runs to
// several megabytes.
const maxResponseLine = 64 << 20

// PersistentOptions configures a Persistent renderer.
type PersistentOptions struct {
	Launcher      Launcher      // required
	Timeout       time.Duration // per request; DefaultTimeout when zero
	MaxRestarts   int           // restarts allowed within RestartWindow; DefaultMaxRestarts when zero, none when negative
	RestartWindow time.Duration // DefaultRestartWindow when zero
	Logger        *log.Logger
}

type wireRequest struct {
	ID      string         `json:"id"`
	Diagram string         `json:"diagram"`
	Config  map[string]any `json:"config,omitempty"`
}

type wireResponse struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	SVG   string `json:"svg"`
	Error string `json:"error"`
}

type result struct {
	svg string
	err error
}

// Persistent keeps one renderer process alive and multiplexes requests over
// it. Writes are serialized; a single reader goroutine routes each response
// to its caller by id, so responses may arrive in any order.
//
// When the process exits every outstanding request fails with ErrCrashed and
// the next request relaunches it. More than MaxRestarts relaunches within
// RestartWindow move the renderer to StateFailed, where every request
// returns ErrUnavailable until Reset.
type Persistent struct {
	opts   PersistentOptions
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	session  *session
	restarts []time.Time
}

var _ Renderer = (*Persistent)(nil)

// NewPersistent returns a Persistent renderer. The process is launched by
// the first request.
func NewPersistent(opts PersistentOptions) (*Persistent, error) {
	if opts.Launcher == nil {
		return nil, fmt.Errorf("%w: no launcher", ErrUnavailable)
	}
	if opts.MaxRestarts == 0 {
		opts.MaxRestarts = DefaultMaxRestarts
	}
	if opts.RestartWindow <= 0 {
		opts.RestartWindow = DefaultRestartWindow
	}
	return &Persistent{
		opts:   opts,
		logger: loggerOr(opts.Logger),
		now:    time.Now,
	}, nil
}

// State returns the current lifecycle state.
func (p *Persistent) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start launches the process if it is not running.
func (p *Persistent) Start() error {
	_, err := p.acquire()
	return err
}

// Render sends req and waits for its response. On timeout the caller gets
// ErrTimeout at once; the id is marked abandoned and its late response is
// read and discarded when it arrives.
func (p *Persistent) Render(ctx context.Context, req Request) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	ctx, cancel := withTimeout(ctx, p.opts.Timeout)
	defer cancel()

	s, err := p.acquire()
	if err != nil {
		return "", err
	}
	ch, err := s.register(req.ID)
	if err != nil {
		return "", err
	}

	// The write runs aside so that a renderer that stops reading its input
	// cannot hold the caller past its deadline.
	sent := make(chan error, 1)
	go func() {
		sent <- s.send(wireRequest{ID: req.ID, Diagram: req.Diagram, Config: requestConfig(req)})
	}()

	for {
		select {
		case err := <-sent:
			sent = nil
			if err != nil {
				s.abandon(req.ID, err)
				s.stop()
				return "", fmt.Errorf("%w: writing request: %v", ErrCrashed, err)
			}
		case r := <-ch:
			return r.svg, r.err
		case <-ctx.Done():
			err := contextErr(ctx)
			if !s.abandon(req.ID, err) {
				// The response won the race; it is already on its way.
				r := <-ch
				return r.svg, r.err
			}
			p.logger.Warn("render abandoned", "id", req.ID, "err", err)
			return "", err
		}
	}
}

// Cancel abandons an outstanding request. Its caller returns ErrCanceled and
// the eventual response is discarded. It reports whether id was pending.
func (p *Persistent) Cancel(id string) bool {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()

	if s == nil {
		return false
	}
	return s.abandon(id, fmt.Errorf("%w: id %s", ErrCanceled, id))
}

// Reset clears the restart history and leaves StateFailed so that the next
// request launches a fresh process.
func (p *Persistent) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return ErrClosed
	}
	p.restarts = nil
	if p.state == StateFailed {
		p.state = StateIdle
	}
	return nil
}

// Close stops the process. Outstanding requests fail with ErrClosed.
func (p *Persistent) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosed
	s := p.session
	p.session = nil
	p.mu.Unlock()

	if s != nil {
		s.fail(ErrClosed)
		_ = s.conn.Stdin.Close()
		s.stop()
	}
	return nil
}

// acquire returns the running session, launching or relaunching the process
// as the state machine allows.
func (p *Persistent) acquire() (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning && p.session.isDead() {
		p.session = nil
		p.state = StateCrashed
	}

	switch p.state {
	case StateClosed:
		return nil, ErrClosed
	case StateFailed:
		return nil, fmt.Errorf("%w: restarted %d times within %s; reset required",
			ErrUnavailable, p.opts.MaxRestarts, p.opts.RestartWindow)
	case StateRunning:
		return p.session, nil
	case StateCrashed:
		if !p.allowRestart() {
			p.state = StateFailed
			p.logger.Error("renderer restart limit reached",
				"restarts", p.opts.MaxRestarts, "window", p.opts.RestartWindow)
			return nil, fmt.Errorf("%w: restarted %d times within %s; reset required",
				ErrUnavailable, p.opts.MaxRestarts, p.opts.RestartWindow)
		}
		p.state = StateRestarting
		p.logger.Warn("restarting renderer", "attempt", len(p.restarts), "max", p.opts.MaxRestarts)
	}

	conn, err := p.opts.Launcher()
	if err != nil {
		// A failed launch counts as a crash, so relaunch attempts stay bounded.
		p.state = StateCrashed
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := newSession(conn, p.logger)
	p.session = s
	p.state = StateRunning
	go p.watch(s)
	return s, nil
}

// allowRestart records a restart if the rolling window has room for one.
func (p *Persistent) allowRestart() bool {
	if p.opts.MaxRestarts < 0 {
		return false
	}
	cutoff := p.now().Add(-p.opts.RestartWindow)
	kept := p.restarts[:0]
	for _, t := range p.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.restarts = kept
	if len(kept) >= p.opts.MaxRestarts {
		return false
	}
	p.restarts = append(p.restarts, p.now())
	return true
}

// watch runs the session's reader and handles process exit.
func (p *Persistent) watch(s *session) {
	err := s.readLoop()
	s.fail(fmt.Errorf("%w: %v", ErrCrashed, err))
	s.stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == s {
		p.session = nil
		if p.state == StateRunning {
			p.state = StateCrashed
			p.logger.Warn("renderer exited", "err", err)
		}
	}
}

// session is one launched process and its outstanding requests.
type session struct {
	conn     *Conn
	logger   *log.Logger
	writeMu  sync.Mutex
	stopOnce sync.Once

	mu        sync.Mutex
	pending   map[string]chan result
	abandoned map[string]struct{}
	order     []string // abandoned ids, oldest first; may hold ids already answered
	dead      bool
}

// maxAbandoned caps the ids remembered for late responses. A renderer that
// never answers would otherwise grow the set for the life of the process;
// past the cap the oldest id is forgotten and its response, if it ever
// comes, is logged as unknown.
const maxAbandoned = 1024

func newSession(conn *Conn, logger *log.Logger) *session {
	return &session{
		conn:      conn,
		logger:    logger,
		pending:   make(map[string]chan result),
		abandoned: make(map[string]struct{}),
	}
}

func (s *session) isDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

// register adds id to the pending map and returns the channel its result
// will be sent on.
func (s *session) register(id string) (chan result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return nil, fmt.Errorf("%w: process exited", ErrCrashed)
	}
	if _, dup := s.pending[id]; dup {
		return nil, fmt.Errorf("%w: duplicate request id %s", ErrFailed, id)
	}
	ch := make(chan result, 1)
	s.pending[id] = ch
	return ch, nil
}

// send writes one request line.
func (s *session) send(req wireRequest) error {
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	line = append(line, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.conn.Stdin.Write(line)
	return err
}

// abandon removes id from the pending map, hands err to its waiting caller
// and remembers id so that a late response is discarded quietly.
func (s *session) abandon(id string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	if !s.dead {
		s.abandoned[id] = struct{}{}
		s.order = append(s.order, id)
		s.pruneAbandoned()
	}
	ch <- result{err: err}
	return true
}

// pruneAbandoned forgets the oldest ids beyond maxAbandoned. Must hold mu.
func (s *session) pruneAbandoned() {
	for len(s.abandoned) > maxAbandoned && len(s.order) > 0 {
		delete(s.abandoned, s.order[0])
		s.order = s.order[1:]
	}
	// Late responses leave answered ids in order; drop them before the
	// slice outgrows the set.
	if len(s.order) > 2*maxAbandoned {
		kept := make([]string, 0, len(s.abandoned))
		for _, id := range s.order {
			if _, ok := s.abandoned[id]; ok {
				kept = append(kept, id)
			}
		}
		s.order = kept
	}
}

// deliver routes a response to its caller.
func (s *session) deliver(resp wireResponse) {
	s.mu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	_, late := s.abandoned[resp.ID]
	if late {
		delete(s.abandoned, resp.ID)
	}
	s.mu.Unlock()

	switch {
	case ok && resp.OK:
		ch <- result{svg: resp.SVG}
	case ok:
		ch <- result{err: fmt.Errorf("%w: %s", ErrFailed, firstNonEmpty(resp.Error, "renderer reported an error"))}
	case late:
		s.logger.Debug("discarding late response", "id", resp.ID)
	default:
		s.logger.Warn("discarding response with unknown id", "id", resp.ID)
	}
}

// readLoop routes responses until the process output ends. Malformed lines
// are logged and skipped.
func (s *session) readLoop() error {
	sc := bufio.NewScanner(s.conn.Stdout)
	sc.Buffer(make([]byte, 0, 64<<10), maxResponseLine)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp wireResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == "" {
			s.logger.Warn("discarding malformed response line", "bytes", len(line), "err", err)
			continue
		}
		s.deliver(resp)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

// fail marks the session dead and fails every outstanding request with
// cause. Only the first call has an effect.
func (s *session) fail(cause error) {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	pending := s.pending
	s.pending = make(map[string]chan result)
	s.abandoned = make(map[string]struct{})
	s.order = nil
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: cause}
	}
}

// stop terminates the process once.
func (s *session) stop() {
	s.stopOnce.Do(func() {
		if s.conn.Stop != nil {
			_ = s.conn.Stop()
		}
	})
}
