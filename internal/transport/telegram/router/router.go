package router

import (
	"context"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	rtsup "likebot/internal/runtime/supervisor"
	kit "likebot/internal/transport"
	logx "likebot/pkg/logx"
)

type Options struct {
	Adapter kit.Adapter
	Log     logx.Logger
	Owners  []int64

	// Text handles messages that are not commands. Nil drops them.
	Text HandlerFunc
	// PrivateText limits Text to private chats; commands work everywhere.
	PrivateText bool

	Workers        int           // default 4
	QueueSize      int           // per worker, default 64
	DefaultTimeout time.Duration // per request, default 2m
}

type Router struct {
	opt Options
	log logx.Logger

	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	cbs    map[string]map[string]CallbackRoute // scope -> action -> route
	owners []int64

	runMu  sync.Mutex
	queues []chan func()
}

func New(opt Options) *Router {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = 2 * time.Minute
	}
	return &Router{
		opt:    opt,
		log:    opt.Log.With(logx.String("comp", "telegram.router")),
		root:   newRoot(),
		alias:  map[string]*cmdNode{},
		cbs:    map[string]map[string]CallbackRoute{},
		owners: slices.Clone(opt.Owners),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *Router) SetOwners(owners []int64) {
	m.mu.Lock()
	m.owners = slices.Clone(owners)
	m.mu.Unlock()
}

func (m *Router) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetRegistry installs commands and callback routes. /help is always added.
// The menu is published in the background when the adapter supports it.
func (m *Router) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args), &kit.SendOptions{DisablePreview: true})
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(strings.ToLower(c.Route))
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root.find(route)
		// multi-word routes also answer to their menu name, e.g. /job_stop
		if len(route) > 1 {
			if name := sanitizeCommand(strings.Join(route, "_")); name != "" {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				alias[a] = leaf
			}
		}
	}
	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		if r.Scope == "" || r.Action == "" || r.Handle == nil {
			continue
		}
		if cb[r.Scope] == nil {
			cb[r.Scope] = map[string]CallbackRoute{}
		}
		cb[r.Scope][r.Action] = r
	}

	m.mu.Lock()
	m.root, m.alias, m.cbs = root, alias, cb
	m.mu.Unlock()

	if up, ok := m.opt.Adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(cmds)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Run consumes updates until ctx ends or updates closes, then drains the
// workers for a short while.
func (m *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	queues := make([]chan func(), m.opt.Workers)
	for i := range queues {
		q := make(chan func(), m.opt.QueueSize)
		queues[i] = q
		sup.Go0("router.worker."+strconv.Itoa(i), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-q:
					if !ok {
						return
					}
					job()
				}
			}
		})
	}
	m.runMu.Lock()
	m.queues = queues
	m.runMu.Unlock()
	m.log.Info("dispatcher started", logx.Int("workers", len(queues)), logx.Int("queue_cap", m.opt.QueueSize))

	defer func() {
		m.runMu.Lock()
		m.queues = nil
		m.runMu.Unlock()
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Dispatch(ctx, up)
		}
	}
}

// Dispatch routes one update. It never blocks on handler work.
func (m *Router) Dispatch(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			m.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			m.routeCallback(ctx, up)
		}
	}
}

func (m *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := msg.Chat()
	if !m.isOwner(msg.FromID) {
		m.log.Info("message from non-owner ignored", logx.Int64("from_id", msg.FromID), logx.String("username", msg.FromUsername))
		if msg.IsPrivate {
			_, _ = m.opt.Adapter.SendText(ctx, chat, "This bot is private.", nil)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		if m.opt.Text == nil || (m.opt.PrivateText && !msg.IsPrivate) {
			return
		}
		m.enqueue(ctx, up, chat, msg.FromID, "text", m.opt.DefaultTimeout, m.opt.Text, func(r *Request) {
			r.Text = text
			r.Args = strings.Fields(text)
		})
		return
	}

	word, rest := text[1:], ""
	if i := strings.IndexFunc(word, unicode.IsSpace); i >= 0 {
		word, rest = word[:i], word[i+1:]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	words := append([]string{word}, strings.Fields(rest)...)

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	node, path, args := root.resolve(words)
	if node == nil || node.cmd == nil {
		if leaf, ok := alias[strings.ToLower(word)]; ok {
			node, path, args = leaf, splitRoute(leaf.cmd.Route), words[1:]
		}
	}
	if node == nil {
		_, _ = m.opt.Adapter.SendText(ctx, chat, "Unknown command. Send /help for the list.", nil)
		return
	}
	if node.cmd == nil {
		_, _ = m.opt.Adapter.SendText(ctx, chat, helpNode(node, path), nil)
		return
	}
	cmd := *node.cmd
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	m.enqueue(ctx, up, chat, msg.FromID, cmd.Route, timeout, cmd.Handle, func(r *Request) {
		r.Args = args
		r.Text = strings.TrimSpace(strings.Join(args, " "))
		// keep line breaks for multi-link pastes
		if len(path) == 1 {
			r.Text = strings.TrimSpace(rest)
		}
	})
}

func (m *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	scope, rest, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")
	action, payload, _ := strings.Cut(rest, ":")

	m.mu.RLock()
	route, ok := m.cbs[scope][action]
	m.mu.RUnlock()
	if !ok {
		_ = m.opt.Adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if !m.isOwner(cb.FromID) {
		_ = m.opt.Adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}
	timeout := route.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	chat := cb.Chat()
	h := func(c context.Context, r *Request) error {
		err := route.Handle(c, r)
		// stop the client's loading spinner
		_ = m.opt.Adapter.AnswerCallback(c, cb.ID, "")
		return err
	}
	m.enqueue(ctx, up, chat, cb.FromID, "cb:"+scope+":"+action, timeout, h, func(r *Request) {
		r.Payload = payload
	})
}

// enqueue hands the request to the worker owning fromID, so one user's
// updates run in order.
func (m *Router) enqueue(ctx context.Context, up kit.Update, chat kit.ChatTarget, fromID int64, name string, timeout time.Duration, h HandlerFunc, fill func(*Request)) {
	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Command: name,
		ReqID:   rid,
		Adapter: m.opt.Adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", name),
		),
	}
	if fill != nil {
		fill(req)
	}
	final := Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))
	job := func() { _ = final(ctx, req) }

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if len(m.queues) == 0 {
		// dispatcher not running
		go job()
		return
	}
	q := m.queues[uint64(fromID)%uint64(len(m.queues))]
	select {
	case q <- job:
	default:
		req.Logger.Warn("request dropped (queue full)")
		if up.Kind == kit.UpdateCallback {
			_ = m.opt.Adapter.AnswerCallback(ctx, up.Callback.ID, "busy, try again")
			return
		}
		_, _ = m.opt.Adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

func newReqID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(rand.Uint64N(36*36), 36)
}
