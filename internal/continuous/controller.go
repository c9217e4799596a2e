package continuous

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/logging"
	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
	"github.com/rescale/blindbackup/internal/syncengine"
)

// direction identifies which way a drilled or full sync runs.
type direction int

const (
	forward direction = iota // src -> dst
	reverse                  // dst -> src
)

// defaultReducerTTL is the debounce window applied to a single
// filesystem burst before its quiescence tick fires a drilled sync.
const defaultReducerTTL = 2 * time.Second

// Config configures a Controller.
type Config struct {
	Mode    Mode
	Options syncengine.Options

	// ReducerTTL is the debounce window each reducer waits for quiet
	// before draining its pending set. Zero selects defaultReducerTTL.
	ReducerTTL time.Duration

	// FullSyncInterval schedules a periodic full compare-and-sync,
	// independent of event-driven mode. Zero disables it.
	FullSyncInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReducerTTL == 0 {
		c.ReducerTTL = defaultReducerTTL
	}
	return c
}

// Controller drives continuous synchronization between src and dst:
// background listeners feed a debounced reducer per direction, and a
// periodic full sync runs independently. At most one sync (drilled or
// full) runs at a time, serialized by a single mutex.
type Controller struct {
	src, dst         provider.Provider
	srcKey, dstKey   *filecrypto.Key
	cfg              Config
	logger           *logging.Logger

	canTrigger atomic.Bool
	syncMu     sync.Mutex

	srcReducer *Reducer
	dstReducer *Reducer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles []*provider.ListenerHandle
}

// New creates a Controller. srcKey/dstKey may be nil if the respective
// side stores plaintext names and bodies.
func New(src, dst provider.Provider, srcKey, dstKey *filecrypto.Key, cfg Config, logger *logging.Logger) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	c := &Controller{
		src:    src,
		dst:    dst,
		srcKey: srcKey,
		dstKey: dstKey,
		cfg:    cfg,
		logger: logger,
	}
	c.canTrigger.Store(true)
	c.srcReducer = NewReducer(cfg.ReducerTTL, &c.canTrigger, func(paths []pathutil.RelPath) {
		c.drainQueued(paths, forward)
	})
	if cfg.Mode.Symmetric {
		c.dstReducer = NewReducer(cfg.ReducerTTL, &c.canTrigger, func(paths []pathutil.RelPath) {
			c.drainQueued(paths, reverse)
		})
	}
	return c
}

// Start wires background listeners (if Mode.Background) and the
// periodic full-sync ticker (if FullSyncInterval > 0), both running
// until ctx is cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.cfg.Mode.Background {
		srcHandle, err := c.src.ListenChanges(c.ctx, c.onSrcEvent)
		if err != nil {
			return fmt.Errorf("continuous: listen src: %w", err)
		}
		c.addHandle(srcHandle)
		c.addHandle(c.srcReducer.Start("continuous-src-reducer"))

		if c.cfg.Mode.Symmetric {
			dstHandle, err := c.dst.ListenChanges(c.ctx, c.onDstEvent)
			if err != nil {
				return fmt.Errorf("continuous: listen dst: %w", err)
			}
			c.addHandle(dstHandle)
			c.addHandle(c.dstReducer.Start("continuous-dst-reducer"))
		}
	}

	if c.cfg.FullSyncInterval > 0 {
		c.wg.Add(1)
		go c.fullSyncLoop()
	}

	return nil
}

// Stop cancels every background worker and waits for them to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	handles := c.handles
	c.mu.Unlock()
	for _, h := range handles {
		h.RequestStop()
	}
	for _, h := range handles {
		h.Join(context.Background())
	}
	c.wg.Wait()
}

func (c *Controller) addHandle(h *provider.ListenerHandle) {
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()
}

func (c *Controller) onSrcEvent(e provider.Event) {
	if e.OriginatorUID == c.dst.UID() {
		return // our own dst -> src sync just wrote this
	}
	rel, err := c.src.EventRelpath(e.FullPath)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", e.FullPath).Msg("continuous: unresolvable src event path")
		return
	}
	c.srcReducer.AddEvent(rel)
}

func (c *Controller) onDstEvent(e provider.Event) {
	if e.OriginatorUID == c.src.UID() {
		return // our own src -> dst sync just wrote this
	}
	rel, err := c.dst.EventRelpath(e.FullPath)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", e.FullPath).Msg("continuous: unresolvable dst event path")
		return
	}
	c.dstReducer.AddEvent(rel)
}

func (c *Controller) drainQueued(paths []pathutil.RelPath, dir direction) {
	for _, p := range paths {
		if err := c.syncDrilled(p, dir); err != nil {
			c.logger.Error().Err(err).Str("relpath", p.String()).Msg("continuous: drilled sync failed")
		}
	}
}

// syncDrilled clones both providers, drills each clone to relpath (after
// re-encrypting it into that side's namespace), and runs a focused sync
// on the resulting subtree, holding the single-sync gate for the
// duration.
func (c *Controller) syncDrilled(relpath pathutil.RelPath, dir direction) error {
	c.syncMu.Lock()
	c.canTrigger.Store(false)
	defer func() {
		c.canTrigger.Store(true)
		c.syncMu.Unlock()
	}()

	from, to, fromKey, toKey := c.src, c.dst, c.srcKey, c.dstKey
	if dir == reverse {
		from, to, fromKey, toKey = c.dst, c.src, c.dstKey, c.srcKey
	}

	fromEnc, err := syncengine.EncryptPath(fromKey, relpath)
	if err != nil {
		return fmt.Errorf("continuous: encrypt source path: %w", err)
	}
	toEnc, err := syncengine.EncryptPath(toKey, relpath)
	if err != nil {
		return fmt.Errorf("continuous: encrypt destination path: %w", err)
	}

	fromClone := from.Clone()
	if err := fromClone.Drill(fromEnc); err != nil {
		return fmt.Errorf("continuous: drill source: %w", err)
	}
	toClone := to.Clone()
	if err := toClone.Drill(toEnc); err != nil {
		return fmt.Errorf("continuous: drill destination: %w", err)
	}

	opts := c.cfg.Options
	opts.SyncDeletes = c.cfg.Mode.PropagateDeletes

	return syncengine.Sync(c.ctx, fromClone, toClone, opts, fromKey, toKey, nil)
}

// TriggerFullSync runs one full compare-and-sync pass immediately: src
// into dst, then (in symmetric mode) dst into src. Exported so a caller
// can force a pass on startup before switching to event-driven mode.
func (c *Controller) TriggerFullSync(ctx context.Context) error {
	c.syncMu.Lock()
	c.canTrigger.Store(false)
	defer func() {
		c.canTrigger.Store(true)
		c.syncMu.Unlock()
	}()

	opts := c.cfg.Options
	opts.SyncDeletes = c.cfg.Mode.PropagateDeletes

	if err := syncengine.Sync(ctx, c.src, c.dst, opts, c.srcKey, c.dstKey, nil); err != nil {
		return fmt.Errorf("continuous: full sync src->dst: %w", err)
	}
	if c.cfg.Mode.Symmetric {
		if err := syncengine.Sync(ctx, c.dst, c.src, opts, c.dstKey, c.srcKey, nil); err != nil {
			return fmt.Errorf("continuous: full sync dst->src: %w", err)
		}
	}
	return nil
}

func (c *Controller) fullSyncLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FullSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.TriggerFullSync(c.ctx); err != nil {
				c.logger.Error().Err(err).Msg("continuous: periodic full sync failed")
			}
		}
	}
}
