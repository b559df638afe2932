// Package client is the client-resident Local Cache & Sync Engine. Local
// changes are applied optimistically and queued in a persistent outbox; the
// engine keeps a gateway connection alive, replays the outbox in order,
// fills gaps from each conversation's sync cursor and merges server events
// into the cache.
package client

import (
	"context"
	"strconv"
	"sync"
	"time"

	"chatsync/pkg/apperr"
	"chatsync/pkg/client/cache"
	"chatsync/pkg/clock"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConnectFailed is returned by Run once reconnect attempts are
	// exhausted.
	ErrConnectFailed = errors.New("can't connect")

	errAckTimeout   = apperr.New(apperr.KindDisconnected, "client.request", "ack timeout")
	errConnLost     = apperr.New(apperr.KindDisconnected, "client.request", "connection lost")
	errRateLimited  = apperr.New(apperr.KindTransientIO, "client.request", "rate limited")
	errNotConfirmed = apperr.Validation("client", "message is not confirmed yet")
)

type Options struct {
	UserID string
	// ReplayRate paces outbox replay, in actions per second.
	ReplayRate     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxElapsed bounds reconnecting; zero retries forever.
	MaxElapsed time.Duration
	// TempTTL is how long temp id reconciliations are remembered.
	TempTTL    time.Duration
	AckTimeout time.Duration
	PageSize   int
	// UpdateBuffer is the channel size of each subscriber.
	UpdateBuffer int
	Clock        clock.Clock
}

func (o *Options) fill() {
	if o.ReplayRate <= 0 {
		o.ReplayRate = 20
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.TempTTL <= 0 {
		o.TempTTL = 10 * time.Minute
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 10 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 200
	}
	if o.UpdateBuffer <= 0 {
		o.UpdateBuffer = 128
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
}

type reply struct {
	raw []byte
	err error
}

type syncJob struct {
	conv string
	join bool
}

type Engine struct {
	opts    Options
	cache   cache.Cache
	dialer  Dialer
	history History
	clock   clock.Clock
	temps   *tempMap

	// mu serializes merges into the cache and guards the fields below.
	mu        sync.Mutex
	state     State
	conn      Conn
	watched   map[string]bool
	discarded map[string]bool
	// inflight is the outbox id currently being replayed.
	inflight uint64
	subs      map[chan Update]struct{}

	waitMu  sync.Mutex
	waiters map[string]chan reply
	ref     uint64

	kick chan struct{}
	jobs chan syncJob
}

// New builds an engine over c. Conversations with a stored cursor are
// watched again.
func New(c cache.Cache, dialer Dialer, history History, opts Options) (*Engine, error) {
	opts.fill()
	e := &Engine{
		opts:      opts,
		cache:     c,
		dialer:    dialer,
		history:   history,
		clock:     opts.Clock,
		temps:     newTempMap(opts.Clock, opts.TempTTL),
		state:     StateOffline,
		watched:   make(map[string]bool),
		discarded: make(map[string]bool),
		subs:      make(map[chan Update]struct{}),
		waiters:   make(map[string]chan reply),
		kick:      make(chan struct{}, 1),
		jobs:      make(chan syncJob, 64),
	}
	cursors, err := c.Cursors()
	if err != nil {
		return nil, errors.Wrap(err, "load cursors")
	}
	for _, cur := range cursors {
		e.watched[cur.ConversationID] = true
	}
	return e, nil
}

func (e *Engine) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.InitialBackoff
	b.MaxInterval = e.opts.MaxBackoff
	b.MaxElapsedTime = e.opts.MaxElapsed
	b.Reset()
	return b
}

// Run keeps a connection open until ctx is done, an identity is rejected or
// reconnect attempts are exhausted.
func (e *Engine) Run(ctx context.Context) error {
	b := e.newBackoff()
	for {
		e.setState(StateConnecting, nil)
		conn, err := e.dialer.Dial(ctx)
		if err == nil {
			b.Reset()
			err = e.session(ctx, conn)
		}
		if ctx.Err() != nil {
			e.setState(StateOffline, nil)
			return ctx.Err()
		}
		if errors.Is(err, ErrUnauthorized) {
			e.setState(StateFailed, err)
			return err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			e.setState(StateFailed, ErrConnectFailed)
			return errors.Wrap(ErrConnectFailed, err.Error())
		}
		logger.Warn("client_disconnected", "user", e.opts.UserID, "retry_in", wait.String(), "error", err)
		e.setState(StateOffline, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(wait):
		}
	}
}

// session serves one connection: resubscribe, fill gaps, then replay the
// outbox while events stream in.
func (e *Engine) session(ctx context.Context, conn Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	defer func() {
		cancel()
		_ = conn.Close()
		wg.Wait()
		e.mu.Lock()
		e.conn = nil
		e.mu.Unlock()
		e.failWaiters()
	}()

	readErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		readErr <- e.readLoop(conn)
	}()

	for _, conv := range e.Watched() {
		if err := e.subscribe(sctx, conn, conv); err != nil {
			return err
		}
	}
	e.setState(StateOnline, nil)

	errc := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.syncLoop(sctx, conn)
	}()
	go func() {
		defer wg.Done()
		if err := e.flushLoop(sctx, conn); err != nil {
			errc <- err
		}
	}()

	select {
	case err := <-readErr:
		return err
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscribe joins the conversation room and then catches up from the
// cursor, so nothing committed in between is missed.
func (e *Engine) subscribe(ctx context.Context, conn Conn, conv string) error {
	_, err := e.request(ctx, conn, wire.CmdJoinRoom, wire.JoinRoom{RoomID: wire.ConversationRoom(conv)})
	if isPermanent(err) {
		logger.Warn("client_watch_dropped", "conversation", conv, "error", err)
		e.mu.Lock()
		delete(e.watched, conv)
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	return e.catchUp(ctx, conv)
}

func (e *Engine) syncLoop(ctx context.Context, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			var err error
			if j.join {
				err = e.subscribe(ctx, conn, j.conv)
			} else {
				err = e.catchUp(ctx, j.conv)
			}
			if err != nil && ctx.Err() == nil {
				logger.Warn("client_sync_failed", "conversation", j.conv, "error", err)
			}
		}
	}
}

// catchUp fetches every change after the conversation's sync revision,
// including edits and deletes of messages already held.
func (e *Engine) catchUp(ctx context.Context, conv string) error {
	for {
		cur, err := e.cache.Cursor(conv)
		if err != nil {
			return err
		}
		page, err := e.history.After(ctx, conv, cur.Rev, e.opts.PageSize)
		if err != nil {
			return errors.Wrapf(err, "catch up %s", conv)
		}
		e.mu.Lock()
		err = e.applyPageLocked(conv, page)
		e.mu.Unlock()
		if err != nil {
			return err
		}
		if !page.Pagination.HasMore || len(page.Messages) == 0 {
			return nil
		}
	}
}

func (e *Engine) applyPageLocked(conv string, page *models.MessagePage) error {
	for _, m := range page.Messages {
		if err := e.applyServerLocked(m); err != nil {
			return err
		}
	}
	cur, err := e.cache.Cursor(conv)
	if err != nil {
		return err
	}
	if page.Rev > cur.Rev {
		cur.Rev = page.Rev
	}
	// the last page covers every seq the server had committed
	if !page.Pagination.HasMore && page.LastSeq > cur.Seq {
		cur.Seq = page.LastSeq
	}
	return e.cache.PutCursor(cur)
}

func (e *Engine) schedule(j syncJob) {
	select {
	case e.jobs <- j:
	default:
		logger.Warn("client_sync_queue_full", "conversation", j.conv)
	}
}

func (e *Engine) wake() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) nextRef() string {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()
	e.ref++
	return "c" + strconv.FormatUint(e.ref, 10)
}

// request sends a command and waits for its ack or error.
func (e *Engine) request(ctx context.Context, conn Conn, typ string, data any) ([]byte, error) {
	ref := e.nextRef()
	ch := make(chan reply, 1)
	e.waitMu.Lock()
	e.waiters[ref] = ch
	e.waitMu.Unlock()
	drop := func() {
		e.waitMu.Lock()
		delete(e.waiters, ref)
		e.waitMu.Unlock()
	}

	b, err := wire.Encode(conn.Codec(), typ, ref, "", 0, data)
	if err != nil {
		drop()
		return nil, errors.Wrapf(err, "encode %s", typ)
	}
	if err := conn.WriteFrame(b); err != nil {
		drop()
		return nil, errConnLost
	}
	select {
	case r := <-ch:
		return r.raw, r.err
	case <-e.clock.After(e.opts.AckTimeout):
		drop()
		return nil, errAckTimeout
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

func (e *Engine) resolve(ref string, r reply) {
	e.waitMu.Lock()
	ch, ok := e.waiters[ref]
	delete(e.waiters, ref)
	e.waitMu.Unlock()
	if ok {
		ch <- r
	}
}

func (e *Engine) failWaiters() {
	e.waitMu.Lock()
	waiters := e.waiters
	e.waiters = make(map[string]chan reply)
	e.waitMu.Unlock()
	for _, ch := range waiters {
		ch <- reply{err: errConnLost}
	}
}

func (e *Engine) readLoop(conn Conn) error {
	codec := conn.Codec()
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		h, err := wire.DecodeHeader(codec, raw)
		if err != nil {
			logger.Warn("client_bad_frame", "error", err)
			continue
		}
		switch h.Type {
		case wire.EvtHello:
		case wire.EvtAck, wire.EvtPong:
			e.resolve(h.Ref, reply{raw: raw})
		case wire.EvtError:
			f, err := wire.Decode[wire.ErrorBody](codec, raw)
			if err != nil {
				logger.Warn("client_bad_frame", "error", err)
				continue
			}
			e.resolve(h.Ref, reply{err: errorFromBody(f.Data)})
		default:
			e.handleEvent(codec, h.Type, raw)
		}
	}
}

func errorFromBody(b wire.ErrorBody) error {
	if b.Code == "rate_limited" {
		return errRateLimited
	}
	return apperr.New(apperr.ParseKind(b.Code), "gateway", "%s", b.Message)
}

// isPermanent reports a rejection that retrying cannot fix.
func isPermanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindForbidden, apperr.KindNotFound, apperr.KindConflict:
		return true
	}
	return false
}

func (e *Engine) setState(s State, err error) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	if changed || err != nil {
		e.emitLocked(Update{Kind: ConnectionChanged, State: s, Err: err})
	}
	e.mu.Unlock()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe returns a channel of updates and a function that ends the
// subscription. Slow subscribers miss updates rather than stall the engine.
func (e *Engine) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, e.opts.UpdateBuffer)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, ch)
			e.mu.Unlock()
			close(ch)
		})
	}
}

func (e *Engine) emitLocked(u Update) {
	for ch := range e.subs {
		select {
		case ch <- u:
		default:
			logger.Warn("client_update_dropped", "kind", int(u.Kind))
		}
	}
}

// Watch starts syncing a conversation.
func (e *Engine) Watch(conv string) error {
	e.mu.Lock()
	if e.watched[conv] {
		e.mu.Unlock()
		return nil
	}
	e.watched[conv] = true
	online := e.conn != nil
	e.mu.Unlock()
	cur, err := e.cache.Cursor(conv)
	if err != nil {
		return err
	}
	if err := e.cache.PutCursor(cur); err != nil {
		return err
	}
	if online {
		e.schedule(syncJob{conv: conv, join: true})
	}
	return nil
}

func (e *Engine) Watched() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.watched))
	for c := range e.watched {
		out = append(out, c)
	}
	return out
}

// Messages returns a conversation as the user should see it.
func (e *Engine) Messages(conv string) ([]cache.Entry, error) {
	return e.cache.Entries(conv)
}

// Cursor returns the conversation's sync cursor.
func (e *Engine) Cursor(conv string) (cache.SyncCursor, error) {
	return e.cache.Cursor(conv)
}

// ResolveTemp returns the durable id assigned to a temp id, if known.
func (e *Engine) ResolveTemp(tempID string) (string, bool) {
	return e.temps.Lookup(tempID)
}
