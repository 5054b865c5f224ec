// Package scene holds the entity state the renderer reads each frame.
package scene

import (
	"sync"

	"github.com/spaghettifunk/kiln/engine/math"
)

type EntityID uint32

const MaxPointLights = 8

// ComponentArray stores one kind of component densely. Removal swaps the
// last element into the hole, so indices are not stable; ids are.
type ComponentArray[T any] struct {
	items []T
	ids   []EntityID
	index map[EntityID]int
}

func NewComponentArray[T any]() *ComponentArray[T] {
	return &ComponentArray[T]{
		index: make(map[EntityID]int),
	}
}

func (a *ComponentArray[T]) add(id EntityID, item T) {
	a.index[id] = len(a.items)
	a.items = append(a.items, item)
	a.ids = append(a.ids, id)
}

func (a *ComponentArray[T]) remove(id EntityID) bool {
	i, ok := a.index[id]
	if !ok {
		return false
	}
	last := len(a.items) - 1
	a.items[i] = a.items[last]
	a.ids[i] = a.ids[last]
	a.index[a.ids[i]] = i

	var zero T
	a.items[last] = zero
	a.items = a.items[:last]
	a.ids = a.ids[:last]
	delete(a.index, id)
	return true
}

func (a *ComponentArray[T]) Len() int {
	return len(a.items)
}

func (a *ComponentArray[T]) At(i int) (EntityID, *T) {
	return a.ids[i], &a.items[i]
}

func (a *ComponentArray[T]) Get(id EntityID) (*T, bool) {
	i, ok := a.index[id]
	if !ok {
		return nil, false
	}
	return &a.items[i], true
}

/**
 * @brief The world is written by the game on the main goroutine and read
 * concurrently by culling and gather jobs. Writers take Lock, readers RLock.
 */
type World struct {
	mu sync.RWMutex

	Camera           *Camera
	DirectionalLight DirectionalLight

	Models          *ComponentArray[Model]
	InstancedModels *ComponentArray[InstancedModel]
	Impostors       *ComponentArray[Impostor]
	TerrainPatches  *ComponentArray[TerrainPatch]
	Grass           *ComponentArray[Grass]
	Texts           *ComponentArray[Text]
	PointLights     *ComponentArray[PointLight]

	nextID           EntityID
	nextInstanceBase uint32
}

func NewWorld() *World {
	return &World{
		Camera: NewCamera(),
		DirectionalLight: DirectionalLight{
			Direction: math.NewVec3(-0.57735, -0.57735, -0.57735),
			Color:     math.NewVec4(1, 1, 1, 1),
		},
		Models:          NewComponentArray[Model](),
		InstancedModels: NewComponentArray[InstancedModel](),
		Impostors:       NewComponentArray[Impostor](),
		TerrainPatches:  NewComponentArray[TerrainPatch](),
		Grass:           NewComponentArray[Grass](),
		Texts:           NewComponentArray[Text](),
		PointLights:     NewComponentArray[PointLight](),
	}
}

func (w *World) Lock()    { w.mu.Lock() }
func (w *World) Unlock()  { w.mu.Unlock() }
func (w *World) RLock()   { w.mu.RLock() }
func (w *World) RUnlock() { w.mu.RUnlock() }

func (w *World) newID() EntityID {
	w.nextID++
	return w.nextID
}

// The Add and Remove helpers take the write lock themselves.

func (w *World) AddModel(m Model) EntityID {
	w.Lock()
	defer w.Unlock()
	if m.Transform == nil {
		m.Transform = math.NewTransform()
	}
	id := w.newID()
	w.Models.add(id, m)
	return id
}

func (w *World) AddInstancedModel(m InstancedModel) EntityID {
	w.Lock()
	defer w.Unlock()
	m.InstanceBase = w.nextInstanceBase
	w.nextInstanceBase += uint32(len(m.Instances))
	id := w.newID()
	w.InstancedModels.add(id, m)
	return id
}

func (w *World) AddImpostor(i Impostor) EntityID {
	w.Lock()
	defer w.Unlock()
	id := w.newID()
	w.Impostors.add(id, i)
	return id
}

func (w *World) AddTerrainPatch(p TerrainPatch) EntityID {
	w.Lock()
	defer w.Unlock()
	id := w.newID()
	w.TerrainPatches.add(id, p)
	return id
}

func (w *World) AddGrass(g Grass) EntityID {
	w.Lock()
	defer w.Unlock()
	id := w.newID()
	w.Grass.add(id, g)
	return id
}

func (w *World) AddText(t Text) EntityID {
	w.Lock()
	defer w.Unlock()
	id := w.newID()
	w.Texts.add(id, t)
	return id
}

// AddPointLight returns false once MaxPointLights are in the world.
func (w *World) AddPointLight(l PointLight) (EntityID, bool) {
	w.Lock()
	defer w.Unlock()
	if w.PointLights.Len() >= MaxPointLights {
		return 0, false
	}
	id := w.newID()
	w.PointLights.add(id, l)
	return id, true
}

// SetInstances replaces the transforms of an instanced model. The instance
// ranges of every group are packed again when the count changes.
func (w *World) SetInstances(id EntityID, instances []math.Mat4) bool {
	w.Lock()
	defer w.Unlock()
	m, ok := w.InstancedModels.Get(id)
	if !ok {
		return false
	}
	resized := len(m.Instances) != len(instances)
	m.Instances = instances
	if resized {
		w.packInstances()
	}
	return true
}

// packInstances lays the live groups out back to back from base 0, so the
// instance buffer only ever needs to cover what is in the world now.
func (w *World) packInstances() {
	var base uint32
	for i := range w.InstancedModels.items {
		m := &w.InstancedModels.items[i]
		m.InstanceBase = base
		base += uint32(len(m.Instances))
	}
	w.nextInstanceBase = base
}

// Remove deletes the entity from whichever array holds it.
func (w *World) Remove(id EntityID) bool {
	w.Lock()
	defer w.Unlock()
	if w.InstancedModels.remove(id) {
		w.packInstances()
		return true
	}
	return w.Models.remove(id) ||
		w.Impostors.remove(id) ||
		w.TerrainPatches.remove(id) ||
		w.Grass.remove(id) ||
		w.Texts.remove(id) ||
		w.PointLights.remove(id)
}

// InstanceCount is the size the per-frame instance buffers must cover.
func (w *World) InstanceCount() uint32 {
	w.RLock()
	defer w.RUnlock()
	return w.nextInstanceBase
}

// CameraSnapshot takes the write lock because rebuilding the view matrix
// updates the camera's cached state.
func (w *World) CameraSnapshot(aspectRatio float32) CameraSnapshot {
	w.Lock()
	defer w.Unlock()
	return w.Camera.Snapshot(aspectRatio)
}
