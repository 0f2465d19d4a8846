package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "likebot/pkg/logx"
)

const (
	// settle lets editors finish write-rename-chmod sequences before a reload.
	settle = 250 * time.Millisecond

	rewatchMin = 250 * time.Millisecond
	rewatchMax = 5 * time.Second
)

// Watch reloads the file on change until ctx ends. It watches the parent
// directory so atomic replace-by-rename is seen. Reloads run on this
// goroutine, one at a time.
func (m *Manager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	wait := rewatchMin
	for {
		w, err := newDirWatcher(dir)
		if err == nil {
			wait = rewatchMin
			m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))
			err = m.follow(ctx, w, name)
			_ = w.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher lost, retrying", logx.String("dir", dir), logx.Duration("in", wait), logx.Err(err))
		if !sleepCtx(ctx, wait+time.Duration(rand.Int64N(int64(wait/2)+1))) {
			return nil
		}
		wait = min(wait*2, rewatchMax)
	}
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// follow returns when ctx ends or the watcher breaks.
func (m *Manager) follow(ctx context.Context, w *fsnotify.Watcher, name string) error {
	settleTimer := time.NewTimer(time.Hour)
	settleTimer.Stop()
	defer settleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settleTimer.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				settleTimer.Reset(settle)
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok, errors.Is(err, fsnotify.ErrClosed):
				return errors.New("watcher closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// events were lost; re-read to be safe
				settleTimer.Reset(settle)
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
