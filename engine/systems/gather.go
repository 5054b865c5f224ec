package systems

import (
	"cmp"
	"fmt"
	"unicode/utf8"

	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
)

// Built-in input streams.
const (
	StreamViewport                metadata.InputStreamID = "Viewport"
	StreamComputeFull             metadata.InputStreamID = "ComputeFull"
	StreamComputeHalf             metadata.InputStreamID = "ComputeHalf"
	StreamComputeQuarter          metadata.InputStreamID = "ComputeQuarter"
	StreamComputeEighth           metadata.InputStreamID = "ComputeEighth"
	StreamComputeSixteenth        metadata.InputStreamID = "ComputeSixteenth"
	StreamOpaqueModels            metadata.InputStreamID = "OpaqueModels"
	StreamOpaqueModelsDoubleSided metadata.InputStreamID = "OpaqueModelsDoubleSided"
	StreamMaskedModels            metadata.InputStreamID = "MaskedModels"
	StreamMaskedModelsDoubleSided metadata.InputStreamID = "MaskedModelsDoubleSided"
	StreamDepthOpaqueModels       metadata.InputStreamID = "DepthOpaqueModels"
	StreamDepthMaskedModels       metadata.InputStreamID = "DepthMaskedModels"
	StreamInstancedModels         metadata.InputStreamID = "InstancedModels"
	StreamImpostors               metadata.InputStreamID = "Impostors"
	StreamTerrain                 metadata.InputStreamID = "Terrain"
	StreamGrass                   metadata.InputStreamID = "Grass"
	StreamUIText                  metadata.InputStreamID = "UIText"
	StreamRayTracedShadows        metadata.InputStreamID = "RayTracedShadows"
)

// ComputeGroupSize is the thread group edge of the screen-space compute
// shaders.
const ComputeGroupSize = 8

var (
	modelLayout = metadata.NewVertexLayout(
		[]metadata.VertexFormat{metadata.VertexFormatFloat32x3, metadata.VertexFormatFloat32x3, metadata.VertexFormatFloat32x2},
		nil,
	)
	instancedLayout = metadata.NewVertexLayout(
		[]metadata.VertexFormat{metadata.VertexFormatFloat32x3, metadata.VertexFormatFloat32x3, metadata.VertexFormatFloat32x2},
		// one row of the instance transform per attribute
		[]metadata.VertexFormat{metadata.VertexFormatFloat32x4, metadata.VertexFormatFloat32x4, metadata.VertexFormatFloat32x4, metadata.VertexFormatFloat32x4},
	)
	terrainLayout = metadata.NewVertexLayout(
		[]metadata.VertexFormat{metadata.VertexFormatFloat32x3, metadata.VertexFormatFloat32x2},
		nil,
	)
)

type entryOrder int

const (
	orderNone entryOrder = iota
	orderFrontToBack
	orderBackToFront
)

func sortStream(stream *InputStream, order entryOrder) {
	switch order {
	case orderFrontToBack:
		stream.SortEntries(func(a, b metadata.InputStreamEntry) int {
			return cmp.Compare(a.SortKey, b.SortKey)
		})
	case orderBackToFront:
		stream.SortEntries(func(a, b metadata.InputStreamEntry) int {
			return cmp.Compare(b.SortKey, a.SortKey)
		})
	}
}

// RegisterBuiltinInputStreams registers every stream the built-in passes
// consume.
func RegisterBuiltinInputStreams(m *RenderInputManager, grd *GlobalRenderData, world *scene.World) error {
	descs := []InputStreamDescriptor{
		{
			ID:               StreamViewport,
			Mode:             metadata.InputStreamModeDraw,
			PushConstantSize: sizeOf(viewportConstants{}),
			Gather:           gatherViewport,
		},
		computeStream(StreamComputeFull, 1),
		computeStream(StreamComputeHalf, 2),
		computeStream(StreamComputeQuarter, 4),
		computeStream(StreamComputeEighth, 8),
		computeStream(StreamComputeSixteenth, 16),
		modelStream(StreamOpaqueModels, modelLayout, world, orderFrontToBack, func(mat *scene.Material) bool {
			return !mat.Masked && !mat.DoubleSided
		}),
		modelStream(StreamOpaqueModelsDoubleSided, modelLayout, world, orderFrontToBack, func(mat *scene.Material) bool {
			return !mat.Masked && mat.DoubleSided
		}),
		modelStream(StreamMaskedModels, modelLayout, world, orderBackToFront, func(mat *scene.Material) bool {
			return mat.Masked && !mat.DoubleSided
		}),
		modelStream(StreamMaskedModelsDoubleSided, modelLayout, world, orderBackToFront, func(mat *scene.Material) bool {
			return mat.Masked && mat.DoubleSided
		}),
		modelStream(StreamDepthOpaqueModels, modelLayout, world, orderFrontToBack, func(mat *scene.Material) bool {
			return !mat.Masked
		}),
		modelStream(StreamDepthMaskedModels, modelLayout, world, orderFrontToBack, func(mat *scene.Material) bool {
			return mat.Masked
		}),
		{
			ID:               StreamInstancedModels,
			Layout:           instancedLayout,
			Mode:             metadata.InputStreamModeDrawIndexedInstanced,
			PushConstantSize: sizeOf(instancedConstants{}),
			Gather:           gatherInstancedModels(world, grd),
		},
		{
			ID:               StreamImpostors,
			Mode:             metadata.InputStreamModeDraw,
			PushConstantSize: sizeOf(impostorConstants{}),
			Gather:           gatherImpostors(world),
		},
		{
			ID:               StreamTerrain,
			Layout:           terrainLayout,
			Mode:             metadata.InputStreamModeDrawIndexed,
			PushConstantSize: sizeOf(terrainConstants{}),
			Gather:           gatherTerrain(world),
		},
		{
			ID:               StreamGrass,
			Mode:             metadata.InputStreamModeDraw,
			PushConstantSize: sizeOf(grassConstants{}),
			Gather:           gatherGrass(world),
		},
		{
			ID:               StreamUIText,
			Mode:             metadata.InputStreamModeDraw,
			PushConstantSize: sizeOf(textConstants{}),
			Gather:           gatherText(world),
		},
		{
			ID:               StreamRayTracedShadows,
			Mode:             metadata.InputStreamModeTraceRays,
			PushConstantSize: sizeOf(shadowConstants{}),
			Gather:           gatherShadows(world),
		},
	}
	for _, desc := range descs {
		if err := m.RegisterInputStream(desc); err != nil {
			return err
		}
	}
	return nil
}

func gatherViewport(stream *InputStream, frame FrameContext) error {
	stream.Reset()
	if frame.Width == 0 || frame.Height == 0 {
		return nil
	}
	w, h := float32(frame.Width), float32(frame.Height)
	// a single triangle covering the screen
	return stream.AppendStruct(metadata.InputStreamEntry{VertexCount: 3}, &viewportConstants{
		Width:     w,
		Height:    h,
		InvWidth:  1 / w,
		InvHeight: 1 / h,
	})
}

// computeStream dispatches one group per ComputeGroupSize pixels of the
// render resolution divided by divisor.
func computeStream(id metadata.InputStreamID, divisor uint32) InputStreamDescriptor {
	return InputStreamDescriptor{
		ID:               id,
		Mode:             metadata.InputStreamModeDispatch,
		PushConstantSize: sizeOf(computeConstants{}),
		UserData:         divisor,
		Gather: func(stream *InputStream, frame FrameContext) error {
			stream.Reset()
			if frame.Width == 0 || frame.Height == 0 {
				return nil
			}
			div := stream.UserData().(uint32)
			w := max(frame.Width/div, 1)
			h := max(frame.Height/div, 1)
			return stream.AppendStruct(metadata.InputStreamEntry{
				DispatchX: math.DivideRoundUp(w, ComputeGroupSize),
				DispatchY: math.DivideRoundUp(h, ComputeGroupSize),
				DispatchZ: 1,
			}, &computeConstants{
				Width:     w,
				Height:    h,
				InvWidth:  1 / float32(w),
				InvHeight: 1 / float32(h),
			})
		},
	}
}

func modelStream(id metadata.InputStreamID, layout metadata.VertexLayout, world *scene.World, order entryOrder, match func(*scene.Material) bool) InputStreamDescriptor {
	return InputStreamDescriptor{
		ID:               id,
		Layout:           layout,
		Mode:             metadata.InputStreamModeDrawIndexed,
		PushConstantSize: sizeOf(modelConstants{}),
		Gather: func(stream *InputStream, frame FrameContext) error {
			stream.Reset()
			visible, err := frame.Culling.Visible(CullModels)
			if err != nil {
				return err
			}

			world.RLock()
			defer world.RUnlock()
			for _, id := range visible {
				m, ok := world.Models.Get(id)
				if !ok || m.Hidden || !match(&m.Material) {
					continue
				}
				entry := metadata.InputStreamEntry{
					VertexBuffer:      m.Mesh.VertexBuffer,
					IndexBuffer:       m.Mesh.IndexBuffer,
					IndexBufferOffset: m.Mesh.IndexBufferOffset,
					VertexCount:       m.Mesh.VertexCount,
					IndexCount:        m.Mesh.IndexCount,
					SortKey:           frame.Camera.Position.DistanceSquared(m.Transform.Position),
				}
				if err := stream.AppendStruct(entry, &modelConstants{
					Model:       m.Transform.Matrix(),
					AlbedoSlot:  m.Material.AlbedoSlot,
					NormalSlot:  m.Material.NormalSlot,
					AlphaCutoff: m.Material.AlphaCutoff,
				}); err != nil {
					return err
				}
			}
			sortStream(stream, order)
			return nil
		},
	}
}

func gatherInstancedModels(world *scene.World, grd *GlobalRenderData) GatherFunc {
	return func(stream *InputStream, frame FrameContext) error {
		stream.Reset()
		visible, err := frame.Culling.Visible(CullInstancedModels)
		if err != nil {
			return err
		}
		instances := grd.InstanceBuffer(frame.FrameIndex)

		world.RLock()
		defer world.RUnlock()
		for _, id := range visible {
			m, ok := world.InstancedModels.Get(id)
			if !ok || m.Hidden || len(m.Instances) == 0 {
				continue
			}
			// left out of the instance buffer by GlobalRenderData
			if int(m.InstanceBase)+len(m.Instances) > grd.config.MaxInstances {
				continue
			}
			entry := metadata.InputStreamEntry{
				VertexBuffer:         m.Mesh.VertexBuffer,
				IndexBuffer:          m.Mesh.IndexBuffer,
				IndexBufferOffset:    m.Mesh.IndexBufferOffset,
				InstanceBuffer:       instances,
				InstanceBufferOffset: uint64(m.InstanceBase) * InstanceStride,
				VertexCount:          m.Mesh.VertexCount,
				IndexCount:           m.Mesh.IndexCount,
				InstanceCount:        uint32(len(m.Instances)),
				SortKey:              frame.Camera.Position.DistanceSquared(m.Center),
			}
			if err := stream.AppendStruct(entry, &instancedConstants{
				AlbedoSlot:   m.Material.AlbedoSlot,
				NormalSlot:   m.Material.NormalSlot,
				AlphaCutoff:  m.Material.AlphaCutoff,
				InstanceBase: m.InstanceBase,
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

func gatherImpostors(world *scene.World) GatherFunc {
	return func(stream *InputStream, frame FrameContext) error {
		stream.Reset()
		visible, err := frame.Culling.Visible(CullImpostors)
		if err != nil {
			return err
		}

		world.RLock()
		defer world.RUnlock()
		for _, id := range visible {
			imp, ok := world.Impostors.Get(id)
			if !ok || imp.Hidden {
				continue
			}
			entry := metadata.InputStreamEntry{
				VertexCount: 6,
				SortKey:     frame.Camera.Position.DistanceSquared(imp.Position),
			}
			if err := stream.AppendStruct(entry, &impostorConstants{
				Position:  imp.Position,
				AtlasSlot: imp.AtlasSlot,
				Size:      imp.Size,
			}); err != nil {
				return err
			}
		}
		sortStream(stream, orderBackToFront)
		return nil
	}
}

func gatherTerrain(world *scene.World) GatherFunc {
	return func(stream *InputStream, frame FrameContext) error {
		stream.Reset()
		visible, err := frame.Culling.Visible(CullTerrain)
		if err != nil {
			return err
		}

		world.RLock()
		defer world.RUnlock()
		for _, id := range visible {
			p, ok := world.TerrainPatches.Get(id)
			if !ok || p.Hidden {
				continue
			}
			entry := metadata.InputStreamEntry{
				VertexBuffer:      p.Mesh.VertexBuffer,
				IndexBuffer:       p.Mesh.IndexBuffer,
				IndexBufferOffset: p.Mesh.IndexBufferOffset,
				VertexCount:       p.Mesh.VertexCount,
				IndexCount:        p.Mesh.IndexCount,
				SortKey:           frame.Camera.Position.DistanceSquared(p.Position),
			}
			if err := stream.AppendStruct(entry, &terrainConstants{
				Position:      p.Position,
				Size:          p.Size,
				LOD:           p.LOD,
				HeightmapSlot: p.HeightmapSlot,
				PatchSlot:     p.PatchSlot,
			}); err != nil {
				return err
			}
		}
		sortStream(stream, orderFrontToBack)
		return nil
	}
}

func gatherGrass(world *scene.World) GatherFunc {
	return func(stream *InputStream, frame FrameContext) error {
		stream.Reset()
		visible, err := frame.Culling.Visible(CullGrass)
		if err != nil {
			return err
		}

		world.RLock()
		defer world.RUnlock()
		for _, id := range visible {
			g, ok := world.Grass.Get(id)
			if !ok || g.Hidden || g.BladeCount == 0 {
				continue
			}
			entry := metadata.InputStreamEntry{
				VertexCount:   scene.GrassBladeVertices,
				InstanceCount: g.BladeCount,
			}
			if err := stream.AppendStruct(entry, &grassConstants{
				Position:   g.Position,
				Wind:       g.Wind,
				BladeCount: g.BladeCount,
				Time:       float32(frame.Time),
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

func gatherText(world *scene.World) GatherFunc {
	return func(stream *InputStream, frame FrameContext) error {
		stream.Reset()
		visible, err := frame.Culling.Visible(CullText)
		if err != nil {
			return err
		}

		world.RLock()
		defer world.RUnlock()
		for _, id := range visible {
			t, ok := world.Texts.Get(id)
			if !ok || t.Hidden || t.Content == "" {
				continue
			}
			// two triangles per glyph
			entry := metadata.InputStreamEntry{
				VertexCount: uint32(6 * utf8.RuneCountInString(t.Content)),
			}
			if err := stream.AppendStruct(entry, &textConstants{
				Position:  t.Position,
				Scale:     t.Scale,
				AtlasSlot: t.AtlasSlot,
				Color:     t.Color,
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

func gatherShadows(world *scene.World) GatherFunc {
	return func(stream *InputStream, frame FrameContext) error {
		stream.Reset()
		if frame.Width == 0 || frame.Height == 0 {
			return nil
		}
		world.RLock()
		dir := world.DirectionalLight.Direction
		world.RUnlock()

		err := stream.AppendStruct(metadata.InputStreamEntry{
			DispatchX: frame.Width,
			DispatchY: frame.Height,
			DispatchZ: 1,
		}, &shadowConstants{
			LightDirection: dir.ToVec4(0),
			Width:          frame.Width,
			Height:         frame.Height,
		})
		if err != nil {
			return fmt.Errorf("shadow rays: %w", err)
		}
		return nil
	}
}
