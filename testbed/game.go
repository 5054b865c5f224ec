package testbed

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	backend renderer.RendererBackend

	cube        scene.Mesh
	spinning    []scene.EntityID
	fpsText     scene.EntityID
	elapsed     float64
	lastLogTime float64

	albedoTexture string
	patchBuffers  []metadata.Handle
	patchSlots    []uint32
}

func NewTestGame(app *engine.ApplicationConfig, backend renderer.RendererBackend) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             &gameState{backend: backend},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing testbed...")
	s := g.state()

	var err error
	if s.cube, err = createCube(s.backend); err != nil {
		return err
	}

	tex, err := g.SystemManager.TextureSystem.Acquire(metadata.TextureDescriptor{
		Name:         "testbed/albedo",
		Width:        2,
		Height:       2,
		ChannelCount: 4,
		Pixels: []byte{
			255, 255, 255, 255, 40, 40, 40, 255,
			40, 40, 40, 255, 255, 255, 255, 255,
		},
	}, true)
	if err != nil {
		return err
	}
	s.albedoTexture = tex.Name

	w := g.World
	w.Camera.SetPosition(math.NewVec3(0, 4, 18))

	// A ring of opaque and masked cubes.
	for i := 0; i < 12; i++ {
		angle := float64(i) / 12 * 2 * gomath.Pi
		pos := math.NewVec3(float32(8*gomath.Cos(angle)), 0, float32(8*gomath.Sin(angle)))
		id := w.AddModel(scene.Model{
			Transform: math.NewTransformFromPosition(pos),
			Mesh:      s.cube,
			Material: scene.Material{
				AlbedoSlot:  tex.Slot,
				Masked:      i%3 == 0,
				DoubleSided: i%4 == 0,
				AlphaCutoff: 0.5,
			},
		})
		s.spinning = append(s.spinning, id)
	}

	instances := make([]math.Mat4, 0, 64)
	for x := 0; x < 8; x++ {
		for z := 0; z < 8; z++ {
			instances = append(instances, math.NewMat4Translation(math.NewVec3(float32(x*3-12), -2, float32(z*3-30))))
		}
	}
	w.AddInstancedModel(scene.InstancedModel{
		Mesh:      s.cube,
		Material:  scene.Material{AlbedoSlot: tex.Slot},
		Center:    math.NewVec3(-1.5, -2, -19.5),
		Instances: instances,
	})

	for i := 0; i < 4; i++ {
		w.AddImpostor(scene.Impostor{
			Position: math.NewVec3(float32(i*10-15), 3, -60),
			Size:     math.NewVec2(6, 12),
		})
	}

	// Each terrain patch keeps its own data in the bindless patch array.
	for i := 0; i < 4; i++ {
		buf, err := s.backend.CreateBuffer(metadata.BufferDescriptor{
			Name:  fmt.Sprintf("terrain-patch-%d", i),
			Usage: metadata.BufferUsageStorage,
			Size:  64,
		})
		if err != nil {
			return err
		}
		slot := g.SystemManager.GlobalData.AddPatchBuffer(buf)
		s.patchBuffers = append(s.patchBuffers, buf)
		s.patchSlots = append(s.patchSlots, slot)
		w.AddTerrainPatch(scene.TerrainPatch{
			Mesh:      s.cube,
			Position:  math.NewVec3(float32(i%2)*32-16, -4, float32(i/2)*32-16),
			Size:      32,
			LOD:       uint32(i % 2),
			PatchSlot: slot,
		})
	}

	w.AddGrass(scene.Grass{Position: math.NewVec3(0, -4, 0), BladeCount: 4096, Wind: 0.3})
	w.AddPointLight(scene.PointLight{Position: math.NewVec3(0, 6, 0), Color: math.NewVec4(1, 0.8, 0.6, 1), Radius: 20})
	s.fpsText = w.AddText(scene.Text{Content: "fps: --", Position: math.NewVec2(8, 8), Scale: 1, Color: math.NewVec4(1, 1, 1, 1)})
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.elapsed += deltaTime

	w := g.World
	w.Lock()
	defer w.Unlock()
	for _, id := range s.spinning {
		if m, ok := w.Models.Get(id); ok {
			rot := m.Transform.EulerRotation
			rot.Y += float32(0.5 * deltaTime)
			m.Transform.SetEulerRotation(rot)
		}
	}
	if s.elapsed-s.lastLogTime >= 1 {
		s.lastLogTime = s.elapsed
		if t, ok := w.Texts.Get(s.fpsText); ok {
			t.Content = fmt.Sprintf("t: %.0fs", s.elapsed)
		}
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	core.LogDebug("testbed resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	g.SystemManager.TextureSystem.Release(s.albedoTexture)
	for i, buf := range s.patchBuffers {
		g.SystemManager.GlobalData.ReturnPatchBuffer(s.patchSlots[i])
		s.backend.DestroyBuffer(buf)
	}
	core.LogInfo("shutting down testbed...")
	return nil
}

// createCube uploads a unit cube: 8 positions and 36 indices.
func createCube(backend renderer.RendererBackend) (scene.Mesh, error) {
	corners := [8][3]float32{
		{-0.5, -0.5, -0.5}, {0.5, -0.5, -0.5}, {0.5, 0.5, -0.5}, {-0.5, 0.5, -0.5},
		{-0.5, -0.5, 0.5}, {0.5, -0.5, 0.5}, {0.5, 0.5, 0.5}, {-0.5, 0.5, 0.5},
	}
	indices := [36]uint32{
		0, 2, 1, 0, 3, 2, // back
		4, 5, 6, 4, 6, 7, // front
		0, 4, 7, 0, 7, 3, // left
		1, 2, 6, 1, 6, 5, // right
		3, 7, 6, 3, 6, 2, // top
		0, 1, 5, 0, 5, 4, // bottom
	}

	vertices, err := binary.Append(nil, binary.LittleEndian, corners)
	if err != nil {
		return scene.Mesh{}, err
	}
	vb, err := backend.CreateBuffer(metadata.BufferDescriptor{Name: "cube-vertices", Usage: metadata.BufferUsageVertex, Size: uint64(len(vertices))})
	if err != nil {
		return scene.Mesh{}, err
	}
	if err := backend.UploadBuffer(vb, 0, vertices); err != nil {
		return scene.Mesh{}, err
	}

	idx, err := binary.Append(nil, binary.LittleEndian, indices)
	if err != nil {
		return scene.Mesh{}, err
	}
	ib, err := backend.CreateBuffer(metadata.BufferDescriptor{Name: "cube-indices", Usage: metadata.BufferUsageIndex, Size: uint64(len(idx))})
	if err != nil {
		return scene.Mesh{}, err
	}
	if err := backend.UploadBuffer(ib, 0, idx); err != nil {
		return scene.Mesh{}, err
	}
	return scene.Mesh{
		VertexBuffer: vb,
		VertexCount:  uint32(len(corners)),
		IndexBuffer:  ib,
		IndexCount:   uint32(len(indices)),
	}, nil
}
