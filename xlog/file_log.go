package xlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/google/safeopen"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// FileLog is the file writer of the logger, closed by its owner.
type FileLog interface {
	zapcore.WriteSyncer
	io.Closer
}

var _ FileLog = (*fileLog)(nil)

// fileLog appends the entries into a single file beneath filePath.
// If the file is removed or renamed (e.g. by logrotate), the next
// write creates it again.
type fileLog struct {
	ctx         context.Context
	filePath    string
	filename    string
	mkdirOnce   sync.Once
	lock        sync.Mutex
	currentFile atomic.Pointer[os.File]
	watcher     *fsnotify.Watcher
	closed      atomic.Bool
}

func (log *fileLog) Write(p []byte) (n int, err error) {
	if log.closed.Load() {
		return 0, io.EOF
	}
	select {
	case <-log.ctx.Done():
		return 0, io.EOF
	default:
	}

	log.lock.Lock()
	defer log.lock.Unlock()
	if log.currentFile.Load() == nil {
		if err = log.openOrCreate(); err != nil {
			return 0, err
		}
	}
	return log.currentFile.Load().Write(p)
}

func (log *fileLog) Sync() error {
	log.lock.Lock()
	defer log.lock.Unlock()
	if f := log.currentFile.Load(); f != nil {
		return f.Sync()
	}
	return nil
}

func (log *fileLog) Close() error {
	if !log.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.lock.Lock()
	defer log.lock.Unlock()
	var merr error
	if f := log.currentFile.Swap(nil); f != nil {
		merr = multierr.Append(merr, f.Close())
	}
	if log.watcher != nil {
		merr = multierr.Append(merr, log.watcher.Close())
	}
	return merr
}

func (log *fileLog) mkdir() error {
	var err error = nil
	log.mkdirOnce.Do(func() {
		if log.filePath == "" {
			log.filePath = os.TempDir()
		}
		if log.filePath == os.TempDir() {
			return
		}
		err = os.MkdirAll(log.filePath, 0o755)
	})
	return err
}

func (log *fileLog) openOrCreate() error {
	if err := log.mkdir(); err != nil {
		return fmt.Errorf("[xlog] unable to create log dir %s: %w", log.filePath, err)
	}
	f, err := safeopen.OpenFileBeneath(log.filePath, log.filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("[xlog] unable to open log file %s: %w", filepath.Join(log.filePath, log.filename), err)
	}
	log.currentFile.Store(f)
	return nil
}

// Drop the current file handle once it is moved away, endless until
// the file log is closed.
func (log *fileLog) watch() {
	for {
		select {
		case <-log.ctx.Done():
			_ = log.Close()
			return
		case event, ok := <-log.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != log.filename {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				log.lock.Lock()
				if f := log.currentFile.Swap(nil); f != nil {
					_ = f.Close()
				}
				log.lock.Unlock()
			}
		case _, ok := <-log.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// NewFileLog creates the log file beneath the dir eagerly and watches
// the dir until ctx is done.
func NewFileLog(ctx context.Context, dir, filename string) (FileLog, error) {
	if ctx == nil {
		return nil, errors.New("[xlog] nil file log context")
	}
	if filename == "" || filepath.Base(filename) != filename {
		return nil, fmt.Errorf("[xlog] invalid log filename %q", filename)
	}
	log := &fileLog{
		ctx:      ctx,
		filePath: dir,
		filename: filename,
	}
	if err := log.openOrCreate(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("[xlog] failed to create file watcher: %w", err), log.Close())
	}
	log.watcher = watcher
	if err = watcher.Add(log.filePath); err != nil {
		return nil, multierr.Append(fmt.Errorf("[xlog] failed to watch log dir: %w", err), log.Close())
	}
	go log.watch()
	return log, nil
}

func newFileCore(
	lvlEnabler zapcore.LevelEnabler,
	ws zapcore.WriteSyncer,
	lvlEnc zapcore.LevelEncoder,
	tsEnc zapcore.TimeEncoder,
) zapcore.Core {
	return zapcore.NewCore(zapcore.NewJSONEncoder(newCoreEncoderConfig(lvlEnc, tsEnc)), ws, lvlEnabler)
}
