package systems

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

const DefaultTextureName = "default"

type TextureSystemConfig struct {
	/** @brief The maximum number of textures that can be loaded at once. */
	MaxTextureCount uint32
	/** @brief Frames a released texture is kept alive for, since the GPU may still sample it. */
	FramesInFlight int
}

// Texture is a backend texture placed in the bindless array. Shaders refer
// to it by Slot.
type Texture struct {
	Name         string
	Handle       metadata.Handle
	Slot         uint32
	Width        uint32
	Height       uint32
	ChannelCount uint8
	Flags        metadata.TextureFlag

	referenceCount uint64
	autoRelease    bool
}

type retiredTexture struct {
	handle  metadata.Handle
	retired uint64
}

type TextureSystem struct {
	Config *TextureSystemConfig

	mu sync.Mutex
	// Hashtable for texture lookups.
	registered     map[string]*Texture
	defaultTexture *Texture
	retired        []retiredTexture
	frameNumber    uint64

	backend    renderer.RendererBackend
	globalData *GlobalRenderData
}

func NewTextureSystem(config *TextureSystemConfig, backend renderer.RendererBackend, grd *GlobalRenderData) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		err := fmt.Errorf("func NewTextureSystem - config.MaxTextureCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &TextureSystem{
		Config:     config,
		registered: make(map[string]*Texture),
		backend:    backend,
		globalData: grd,
	}, nil
}

// Initialize creates the default white texture. Being the first texture it
// lands in slot 0, so materials that leave their slots unset sample white.
func (ts *TextureSystem) Initialize() error {
	t, err := ts.create(metadata.TextureDescriptor{
		Name:         DefaultTextureName,
		Width:        1,
		Height:       1,
		ChannelCount: 4,
		Pixels:       []byte{255, 255, 255, 255},
	})
	if err != nil {
		return err
	}
	ts.mu.Lock()
	ts.defaultTexture = t
	ts.mu.Unlock()
	return nil
}

func (ts *TextureSystem) GetDefaultTexture() *Texture {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.defaultTexture
}

// Acquire returns the texture registered under desc.Name, creating it from
// desc the first time, and takes a reference. Textures acquired with
// autoRelease are destroyed when their last reference is released.
func (ts *TextureSystem) Acquire(desc metadata.TextureDescriptor, autoRelease bool) (*Texture, error) {
	if desc.Name == DefaultTextureName {
		core.LogWarn("func texture system Acquire called for default texture. Use GetDefaultTexture for texture 'default'")
		return ts.GetDefaultTexture(), nil
	}

	ts.mu.Lock()
	if t, ok := ts.registered[desc.Name]; ok {
		t.referenceCount++
		ts.mu.Unlock()
		return t, nil
	}
	if uint32(len(ts.registered)) >= ts.Config.MaxTextureCount {
		ts.mu.Unlock()
		return nil, fmt.Errorf("texture system is full (%d), cannot load '%s'", ts.Config.MaxTextureCount, desc.Name)
	}
	ts.mu.Unlock()

	t, err := ts.create(desc)
	if err != nil {
		return nil, err
	}
	t.referenceCount = 1
	t.autoRelease = autoRelease

	ts.mu.Lock()
	defer ts.mu.Unlock()
	// Lost a race with another Acquire of the same name.
	if existing, ok := ts.registered[desc.Name]; ok {
		existing.referenceCount++
		ts.globalData.ReturnTexture(t.Slot)
		ts.retireLocked(t)
		return existing, nil
	}
	ts.registered[desc.Name] = t
	return t, nil
}

// AcquireWriteable creates a render-target texture. An empty name gets a
// generated one. Writeable textures are never auto-released.
func (ts *TextureSystem) AcquireWriteable(name string, width, height uint32, channelCount uint8, hasTransparency bool) (*Texture, error) {
	if name == "" {
		name = "texture-" + uuid.NewString()
	}
	flags := metadata.TextureFlagIsWriteable
	if hasTransparency {
		flags |= metadata.TextureFlagHasTransparency
	}
	return ts.Acquire(metadata.TextureDescriptor{
		Name:         name,
		Width:        width,
		Height:       height,
		ChannelCount: channelCount,
		Flags:        flags,
	}, false)
}

func (ts *TextureSystem) Get(name string) (*Texture, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.registered[name]
	return t, ok
}

// Release drops one reference. The last release of an auto-released texture
// frees its slot right away; the backend texture itself is destroyed once no
// frame in flight can still sample it.
func (ts *TextureSystem) Release(name string) {
	if name == DefaultTextureName {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	t, ok := ts.registered[name]
	if !ok {
		core.LogWarn("texture system: release of unknown texture '%s'", name)
		return
	}
	if t.referenceCount > 0 {
		t.referenceCount--
	}
	if t.referenceCount == 0 && t.autoRelease {
		delete(ts.registered, name)
		ts.globalData.ReturnTexture(t.Slot)
		ts.retireLocked(t)
		core.LogDebug("texture '%s' released from slot %d", name, t.Slot)
	}
}

// Replace swaps the contents of a registered texture for desc, keeping its
// references. The new texture usually takes over the same slot.
func (ts *TextureSystem) Replace(desc metadata.TextureDescriptor) (*Texture, error) {
	ts.mu.Lock()
	t, ok := ts.registered[desc.Name]
	ts.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("texture '%s' is not loaded", desc.Name)
	}

	handle, err := ts.backend.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create texture '%s': %w", desc.Name, err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	// Released, or released and loaded again, while the lock was dropped.
	if cur, ok := ts.registered[desc.Name]; !ok || cur != t {
		ts.backend.DestroyTexture(handle)
		return nil, fmt.Errorf("texture '%s' was released during replace", desc.Name)
	}
	ts.globalData.ReturnTexture(t.Slot)
	slot, err := ts.globalData.TryAddTexture(handle)
	if err != nil {
		// Cannot happen right after a return, but leave the old texture usable.
		ts.backend.DestroyTexture(handle)
		t.Slot = ts.globalData.AddTexture(t.Handle)
		return nil, err
	}
	ts.retireLocked(&Texture{Handle: t.Handle})
	t.Handle = handle
	t.Slot = slot
	t.Width, t.Height, t.ChannelCount, t.Flags = desc.Width, desc.Height, desc.ChannelCount, desc.Flags
	return t, nil
}

// Update destroys textures whose last possible reader has finished.
func (ts *TextureSystem) Update(frameNumber uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.frameNumber = frameNumber

	keep := ts.retired[:0]
	for _, r := range ts.retired {
		if frameNumber >= r.retired+uint64(ts.Config.FramesInFlight) {
			ts.backend.DestroyTexture(r.handle)
			continue
		}
		keep = append(keep, r)
	}
	ts.retired = keep
}

// Count returns how many textures are registered, the default excluded.
func (ts *TextureSystem) Count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.registered)
}

func (ts *TextureSystem) Shutdown() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, r := range ts.retired {
		ts.backend.DestroyTexture(r.handle)
	}
	ts.retired = nil
	for name, t := range ts.registered {
		ts.backend.DestroyTexture(t.Handle)
		delete(ts.registered, name)
	}
	if ts.defaultTexture != nil {
		ts.backend.DestroyTexture(ts.defaultTexture.Handle)
		ts.defaultTexture = nil
	}
	return nil
}

func (ts *TextureSystem) create(desc metadata.TextureDescriptor) (*Texture, error) {
	handle, err := ts.backend.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create texture '%s': %w", desc.Name, err)
	}
	slot, err := ts.globalData.TryAddTexture(handle)
	if err != nil {
		ts.backend.DestroyTexture(handle)
		return nil, fmt.Errorf("no bindless slot for texture '%s': %w", desc.Name, err)
	}
	core.LogDebug("texture '%s' (%dx%d) loaded into slot %d", desc.Name, desc.Width, desc.Height, slot)
	return &Texture{
		Name:         desc.Name,
		Handle:       handle,
		Slot:         slot,
		Width:        desc.Width,
		Height:       desc.Height,
		ChannelCount: desc.ChannelCount,
		Flags:        desc.Flags,
	}, nil
}

func (ts *TextureSystem) retireLocked(t *Texture) {
	ts.retired = append(ts.retired, retiredTexture{handle: t.Handle, retired: ts.frameNumber})
}
