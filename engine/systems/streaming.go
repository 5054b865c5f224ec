package systems

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type TextureStreamerConfig struct {
	/** @brief Directory watched for image files. Texture names are paths relative to it. */
	Root string
	/** @brief Larger images are scaled down to fit. Zero keeps the source size. */
	MaxDimension int
}

// TextureStreamer keeps the texture system in sync with a directory of
// images. Decoding runs as low priority jobs, which the frame never picks up
// while it waits on its gathers.
type TextureStreamer struct {
	config   *TextureStreamerConfig
	jobs     *JobSystem
	textures *TextureSystem

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	loaded  map[string]struct{}
	pending map[string]*Job
	closed  bool
}

func NewTextureStreamer(config *TextureStreamerConfig, jobs *JobSystem, textures *TextureSystem) (*TextureStreamer, error) {
	if config.Root == "" {
		return nil, errors.New("texture streamer requires a root directory")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &TextureStreamer{
		config:   config,
		jobs:     jobs,
		textures: textures,
		watcher:  w,
		done:     make(chan struct{}),
		loaded:   make(map[string]struct{}),
		pending:  make(map[string]*Job),
	}, nil
}

// Start watches the root recursively and schedules every image already in it.
func (s *TextureStreamer) Start() error {
	if err := s.watchRecursive(s.config.Root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.config.Root, err)
	}
	s.wg.Add(1)
	go s.run()
	core.LogInfo("streaming textures from %s", s.config.Root)
	return nil
}

func (s *TextureStreamer) run() {
	defer s.wg.Done()
	for {
		select {
		case e, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(e)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("texture streamer: %s", err)
		case <-s.done:
			return
		}
	}
}

func (s *TextureStreamer) handleEvent(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
			if err := s.watchRecursive(e.Name); err != nil {
				core.LogWarn("texture streamer: failed to watch %s: %s", e.Name, err)
			}
			return
		}
	}
	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		s.schedule(e.Name)
	}
	// Can't stat a removed path, so it may have been a directory. Removing
	// an unknown watch is harmless.
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		s.unload(e.Name)
		_ = s.watcher.Remove(e.Name)
	}
}

// watchRecursive adds path and every directory below it, scheduling the
// images it finds on the way.
func (s *TextureStreamer) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return s.watcher.Add(p)
		}
		s.schedule(p)
		return nil
	})
}

func (s *TextureStreamer) schedule(path string) {
	if !isStreamable(path) {
		return
	}
	name, err := s.textureName(path)
	if err != nil {
		core.LogWarn("texture streamer: %s", err)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	// Not under s.mu: a full queue runs the job inline.
	job, err := s.jobs.Submit(metadata.JobInfo{
		Name:     "stream-" + name,
		Priority: metadata.JOB_PRIORITY_LOW,
		EntryPoint: func() error {
			return s.load(path, name)
		},
		OnFail: func(err error) {
			// Usually a file still being written; its next write event retries.
			core.LogWarn("texture streamer: failed to load '%s': %s", name, err)
		},
	})
	if err != nil {
		core.LogWarn("texture streamer: failed to schedule '%s': %s", name, err)
		return
	}
	s.mu.Lock()
	s.pending[name] = job
	s.mu.Unlock()
}

func (s *TextureStreamer) load(path, name string) error {
	desc, err := decodeTexture(path, s.config.MaxDimension)
	if err != nil {
		return err
	}
	desc.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, ok := s.loaded[name]; ok {
		_, err = s.textures.Replace(desc)
		return err
	}
	if _, err := s.textures.Acquire(desc, true); err != nil {
		return err
	}
	s.loaded[name] = struct{}{}
	core.LogDebug("texture streamer: loaded '%s' (%dx%d)", name, desc.Width, desc.Height)
	return nil
}

func (s *TextureStreamer) unload(path string) {
	name, err := s.textureName(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// A removed directory takes its textures with it.
	for n := range s.loaded {
		if n == name || strings.HasPrefix(n, name+"/") {
			delete(s.loaded, n)
			s.textures.Release(n)
			core.LogDebug("texture streamer: unloaded '%s'", n)
		}
	}
}

// Loaded reports whether name is currently streamed in.
func (s *TextureStreamer) Loaded(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loaded[name]
	return ok
}

// Flush waits for every scheduled load to finish.
func (s *TextureStreamer) Flush() error {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.pending))
	for _, j := range s.pending {
		jobs = append(jobs, j)
	}
	clear(s.pending)
	s.mu.Unlock()
	return WaitAll(jobs...)
}

func (s *TextureStreamer) Shutdown() error {
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()

	flushErr := s.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for name := range s.loaded {
		s.textures.Release(name)
	}
	clear(s.loaded)
	if flushErr != nil {
		core.LogDebug("texture streamer: loads failed during shutdown: %s", flushErr)
	}
	return err
}

func (s *TextureStreamer) textureName(path string) (string, error) {
	rel, err := filepath.Rel(s.config.Root, path)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", path, s.config.Root)
	}
	return filepath.ToSlash(rel), nil
}

func isStreamable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return true
	}
	return false
}

// decodeTexture reads an image as tightly packed RGBA8, scaled down to fit
// maxDimension when it is set.
func decodeTexture(path string, maxDimension int) (metadata.TextureDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return metadata.TextureDescriptor{}, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return metadata.TextureDescriptor{}, err
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return metadata.TextureDescriptor{}, fmt.Errorf("%s image %s is empty", format, path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return metadata.TextureDescriptor{}, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return metadata.TextureDescriptor{}, err
	}

	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	if maxDimension > 0 && (w > maxDimension || h > maxDimension) {
		if w >= h {
			w, h = maxDimension, max(h*maxDimension/w, 1)
		} else {
			w, h = max(w*maxDimension/h, 1), maxDimension
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == src.Dx() && h == src.Dy() {
		xdraw.Draw(dst, dst.Bounds(), img, src.Min, xdraw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, xdraw.Src, nil)
	}

	var flags metadata.TextureFlag
	if !dst.Opaque() {
		flags |= metadata.TextureFlagHasTransparency
	}
	return metadata.TextureDescriptor{
		Width:        uint32(w),
		Height:       uint32(h),
		ChannelCount: 4,
		Flags:        flags,
		Pixels:       dst.Pix,
	}, nil
}
