package systems

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
)

// CullKind selects one component array of the world.
type CullKind int

const (
	CullModels CullKind = iota
	CullInstancedModels
	CullImpostors
	CullTerrain
	CullGrass
	CullText
	cullKindCount
)

func (k CullKind) String() string {
	return [...]string{"models", "instanced-models", "impostors", "terrain", "grass", "text"}[k]
}

// FrameContext is the per-frame input shared by culling, gathers and the
// global render data update. It is passed by value and never modified.
type FrameContext struct {
	FrameNumber uint64
	FrameIndex  int
	DeltaTime   float64
	Time        float64
	Width       uint32
	Height      uint32
	Camera      scene.CameraSnapshot
	Culling     *CullResults
}

// CullResults holds one frame's visibility lists. Each list is written by its
// culling job and only read after that job has finished.
type CullResults struct {
	jobs    [cullKindCount]*Job
	visible [cullKindCount][]scene.EntityID
}

// Visible returns the entities of kind that passed culling this frame.
func (r *CullResults) Visible(kind CullKind) ([]scene.EntityID, error) {
	if r == nil {
		return nil, nil
	}
	if err := r.jobs[kind].WaitPriority(frameWaitPriority); err != nil {
		return nil, err
	}
	return r.visible[kind], nil
}

// Wait blocks until every culling job of the frame is done.
func (r *CullResults) Wait() error {
	if r == nil {
		return nil
	}
	return WaitAllPriority(frameWaitPriority, r.jobs[:]...)
}

type CullingSystem struct {
	jobSystem *JobSystem
	world     *scene.World
}

func NewCullingSystem(js *JobSystem, world *scene.World) (*CullingSystem, error) {
	if js == nil || world == nil {
		return nil, fmt.Errorf("culling system requires a job system and a world")
	}
	return &CullingSystem{
		jobSystem: js,
		world:     world,
	}, nil
}

// Update schedules one high priority culling job per kind against the
// camera in frame. Gathers wait on the result of their kind.
func (cs *CullingSystem) Update(frame FrameContext) (*CullResults, error) {
	results := &CullResults{}
	for kind := CullKind(0); kind < cullKindCount; kind++ {
		job, err := cs.jobSystem.Submit(metadata.JobInfo{
			Name:     "cull-" + kind.String(),
			Priority: metadata.JOB_PRIORITY_HIGH,
			EntryPoint: func() error {
				results.visible[kind] = cs.cull(kind, frame.Camera)
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
		results.jobs[kind] = job
	}
	return results, nil
}

func (cs *CullingSystem) cull(kind CullKind, camera scene.CameraSnapshot) []scene.EntityID {
	cs.world.RLock()
	defer cs.world.RUnlock()

	far := camera.FarClip
	inRange := func(p, extent float32) bool {
		r := far + extent
		return p <= r*r
	}

	var visible []scene.EntityID
	switch kind {
	case CullModels:
		for i := 0; i < cs.world.Models.Len(); i++ {
			id, m := cs.world.Models.At(i)
			if !m.Hidden && inRange(camera.Position.DistanceSquared(m.Transform.Position), 0) {
				visible = append(visible, id)
			}
		}
	case CullInstancedModels:
		for i := 0; i < cs.world.InstancedModels.Len(); i++ {
			id, m := cs.world.InstancedModels.At(i)
			if !m.Hidden && len(m.Instances) > 0 && inRange(camera.Position.DistanceSquared(m.Center), 0) {
				visible = append(visible, id)
			}
		}
	case CullImpostors:
		for i := 0; i < cs.world.Impostors.Len(); i++ {
			id, imp := cs.world.Impostors.At(i)
			if !imp.Hidden && inRange(camera.Position.DistanceSquared(imp.Position), 0) {
				visible = append(visible, id)
			}
		}
	case CullTerrain:
		for i := 0; i < cs.world.TerrainPatches.Len(); i++ {
			id, p := cs.world.TerrainPatches.At(i)
			if !p.Hidden && inRange(camera.Position.DistanceSquared(p.Position), p.Size) {
				visible = append(visible, id)
			}
		}
	case CullGrass:
		for i := 0; i < cs.world.Grass.Len(); i++ {
			id, g := cs.world.Grass.At(i)
			if !g.Hidden && g.BladeCount > 0 && inRange(camera.Position.DistanceSquared(g.Position), 0) {
				visible = append(visible, id)
			}
		}
	case CullText:
		// screen space, only the hidden flag applies
		for i := 0; i < cs.world.Texts.Len(); i++ {
			id, t := cs.world.Texts.At(i)
			if !t.Hidden && t.Content != "" {
				visible = append(visible, id)
			}
		}
	}
	return visible
}
