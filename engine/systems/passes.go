package systems

import (
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// Attachments the built-in passes exchange. They only order the passes.
const (
	AttachmentDepth        = "depth"
	AttachmentDepthPyramid = "depth-pyramid"
	AttachmentShadows      = "shadows"
	AttachmentGBuffer      = "gbuffer"
	AttachmentHDR          = "hdr"
	AttachmentComposite    = "composite"
	AttachmentLDR          = "ldr"
	AttachmentBackbuffer   = "backbuffer"
)

func builtinPasses() []renderer.RenderPassDescriptor {
	return []renderer.RenderPassDescriptor{
		{
			Name: "DepthPrepass",
			Pipeline: metadata.PipelineDescriptor{
				Kind:       metadata.PipelineKindGraphics,
				Layout:     modelLayout,
				CullMode:   metadata.FaceCullModeBack,
				DepthTest:  true,
				DepthWrite: true,
			},
			Outputs: []string{AttachmentDepth},
			Streams: []metadata.InputStreamID{StreamDepthOpaqueModels, StreamDepthMaskedModels},
		},
		{
			Name:     "DepthPyramid",
			Pipeline: metadata.PipelineDescriptor{Kind: metadata.PipelineKindCompute},
			Inputs:   []string{AttachmentDepth},
			Outputs:  []string{AttachmentDepthPyramid},
			// one dispatch per mip
			Streams: []metadata.InputStreamID{StreamComputeHalf, StreamComputeQuarter, StreamComputeEighth, StreamComputeSixteenth},
		},
		{
			Name:     "RayTracedShadows",
			Pipeline: metadata.PipelineDescriptor{Kind: metadata.PipelineKindRayTracing},
			Inputs:   []string{AttachmentDepth},
			Outputs:  []string{AttachmentShadows},
			Streams:  []metadata.InputStreamID{StreamRayTracedShadows},
		},
		{
			Name: "Opaque",
			Pipeline: metadata.PipelineDescriptor{
				Kind:       metadata.PipelineKindGraphics,
				Layout:     modelLayout,
				CullMode:   metadata.FaceCullModeBack,
				DepthTest:  true,
				DepthWrite: true,
			},
			Inputs:  []string{AttachmentDepth, AttachmentDepthPyramid},
			Outputs: []string{AttachmentGBuffer},
			Streams: []metadata.InputStreamID{
				StreamOpaqueModels,
				StreamOpaqueModelsDoubleSided,
				StreamMaskedModels,
				StreamMaskedModelsDoubleSided,
				StreamInstancedModels,
				StreamTerrain,
				StreamGrass,
			},
		},
		{
			Name:     "Lighting",
			Pipeline: metadata.PipelineDescriptor{Kind: metadata.PipelineKindCompute},
			Inputs:   []string{AttachmentGBuffer, AttachmentShadows},
			Outputs:  []string{AttachmentHDR},
			Streams:  []metadata.InputStreamID{StreamComputeFull},
		},
		{
			Name: "Translucent",
			Pipeline: metadata.PipelineDescriptor{
				Kind:         metadata.PipelineKindGraphics,
				CullMode:     metadata.FaceCullModeNone,
				DepthTest:    true,
				BlendEnabled: true,
			},
			Inputs:  []string{AttachmentHDR, AttachmentDepth},
			Outputs: []string{AttachmentComposite},
			Streams: []metadata.InputStreamID{StreamImpostors},
		},
		{
			Name:     "Tonemap",
			Pipeline: metadata.PipelineDescriptor{Kind: metadata.PipelineKindGraphics},
			Inputs:   []string{AttachmentComposite},
			Outputs:  []string{AttachmentLDR},
			Streams:  []metadata.InputStreamID{StreamViewport},
		},
		{
			Name: "UI",
			Pipeline: metadata.PipelineDescriptor{
				Kind:         metadata.PipelineKindGraphics,
				BlendEnabled: true,
			},
			Inputs:  []string{AttachmentLDR},
			Outputs: []string{AttachmentBackbuffer},
			Streams: []metadata.InputStreamID{StreamUIText},
		},
	}
}

// RegisterBuiltinPasses adds the default frame. Every pass records its
// streams with renderer.DrawInputStreams.
func RegisterBuiltinPasses(r *RendererSystem) error {
	for _, desc := range builtinPasses() {
		if _, err := r.RegisterPass(desc, nil); err != nil {
			return err
		}
	}
	return nil
}
