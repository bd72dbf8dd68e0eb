package hotreload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/skills"
)

// DefaultDebounce 单路径默认去抖时间
const DefaultDebounce = 500 * time.Millisecond

// FileOp 文件操作类型
type FileOp int

const (
	// FileOpCreate 文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件已修改
	FileOpWrite
	// FileOpRemove 文件已删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 去抖后的清单变更事件
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets the per-path debounce delay
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher 递归监听目录中的技能清单
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	dirs     map[string]struct{}
	timers   map[string]*time.Timer
	pending  map[string]FileEvent
	debounce time.Duration
	handler  func(FileEvent)
	logger   *zap.Logger

	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher 创建监听器，handler 在去抖结束后以事件调用
func NewWatcher(handler func(FileEvent), opts ...WatcherOption) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watcher: handler is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		dirs:     make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]FileEvent),
		debounce: DefaultDebounce,
		handler:  handler,
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "skill_watcher"))
	return w, nil
}

// AddDir 递归加入目录
func (w *Watcher) AddDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watchDir(path)
	})
}

func (w *Watcher) watchDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirs[dir] = struct{}{}
	w.logger.Debug("watching directory", zap.String("dir", dir))
	return nil
}

// Dirs 返回正在监听的目录
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	return out
}

// Start 开始处理事件
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.eventLoop(ctx)

	w.logger.Info("skill watcher started",
		zap.Int("dirs", len(w.Dirs())),
		zap.Duration("debounce", w.debounce),
	)
	return nil
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// 新建的子目录也要监听
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.AddDir(ev.Name); err != nil {
				w.logger.Warn("watch new directory failed", zap.String("dir", ev.Name), zap.Error(err))
			}
			return
		}
	}
	if !skills.IsManifestFile(ev.Name) {
		return
	}

	var op FileOp
	switch {
	case ev.Has(fsnotify.Create):
		op = FileOpCreate
	case ev.Has(fsnotify.Write):
		op = FileOpWrite
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = FileOpRemove
	default:
		return
	}
	w.schedule(FileEvent{Path: ev.Name, Op: op, Timestamp: time.Now()})
}

// schedule 按路径去抖：每个新事件重置该路径的定时器
func (w *Watcher) schedule(ev FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 原子写入（临时文件 + rename）会先报 Remove/Rename 再报 Create，保留最后一个
	w.pending[ev.Path] = ev
	if t, ok := w.timers[ev.Path]; ok {
		t.Reset(w.debounce)
		return
	}
	path := ev.Path
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.fire(path) })
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	ev, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	running := w.running
	w.mu.Unlock()

	if !ok || !running {
		return
	}
	w.logger.Debug("dispatching manifest event",
		zap.String("path", ev.Path),
		zap.String("op", ev.Op.String()),
	)
	w.handler(ev)
}

// Stop 停止监听并取消未触发的去抖定时器
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsw.Close()
	}
	w.running = false
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.pending = make(map[string]FileEvent)
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	w.logger.Info("skill watcher stopped")
	return err
}
