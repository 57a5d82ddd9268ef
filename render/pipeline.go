package render

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/handle"
	"vulkan-lifetime/unsafer"
)

// RenderPassConfig describes the single subpass render pass with a color
// and a depth attachment.
type RenderPassConfig struct {
	ColorFormat vk.Format
	DepthFormat vk.Format

	// Final marks the last pass of the frame. Its color attachment ends in
	// the present layout, otherwise in the color attachment layout.
	Final bool
}

// CreateRenderPass creates a render pass which clears color and depth.
func CreateRenderPass(ctx *Context, cfg RenderPassConfig) (*OwnedRenderPass, error) {
	finalLayout := vk.ImageLayoutColorAttachmentOptimal
	if cfg.Final {
		finalLayout = vk.ImageLayoutPresentSrc
	}

	colorAttachment := vk.AttachmentDescription{
		Format:         cfg.ColorFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    finalLayout,
	}

	colorAttachmentRef := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}

	depthAttachment := vk.AttachmentDescription{
		Format:         cfg.DepthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	depthAttachmentRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vk.AttachmentReference{colorAttachmentRef},
		PDepthStencilAttachment: &depthAttachmentRef,
	}

	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) |
		vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		SrcAccessMask: 0,
		DstStageMask:  stages,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit) |
			vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
	}

	attachments := []vk.AttachmentDescription{
		colorAttachment,
		depthAttachment,
	}

	renderPassInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	renderPass, err := handle.Create(
		ctx.Device(),
		func(d Device) (vk.RenderPass, error) {
			return d.CreateRenderPass(d.Handle, &renderPassInfo)
		},
		destroyRenderPass,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create render pass: %w", err)
	}
	return renderPass, nil
}

// CreateDescriptorSetLayout creates the layout with the uniform buffer at
// binding 0 for the vertex stage and a combined image sampler at binding 1
// for the fragment stage.
func CreateDescriptorSetLayout(ctx *Context) (*OwnedSetLayout, error) {
	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	layout, err := handle.Create(
		ctx.Device(),
		func(d Device) (vk.DescriptorSetLayout, error) {
			return d.CreateDescriptorSetLayout(d.Handle, &layoutInfo)
		},
		destroySetLayout,
	)
	if err != nil {
		return nil, fmt.Errorf("creating descriptor set layout: %w", err)
	}
	return layout, nil
}

// CreatePipelineLayout creates a pipeline layout over the set layouts.
func CreatePipelineLayout(ctx *Context, setLayouts ...vk.DescriptorSetLayout) (*OwnedPipelineLayout, error) {
	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}

	layout, err := handle.Create(
		ctx.Device(),
		func(d Device) (vk.PipelineLayout, error) {
			return d.CreatePipelineLayout(d.Handle, &pipelineLayoutInfo)
		},
		destroyPipelineLayout,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline layout: %w", err)
	}
	return layout, nil
}

// CreateShaderModule wraps SPIR-V byte code. The code size must be a
// non-zero multiple of four.
func CreateShaderModule(dev Device, code []byte) (*OwnedShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("%w: shader code of %d bytes", ErrOutOfRange, len(code))
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    unsafer.SliceBytesToUint32(code),
	}

	module, err := handle.Create(
		dev,
		func(d Device) (vk.ShaderModule, error) {
			return d.CreateShaderModule(d.Handle, &createInfo)
		},
		destroyShaderModule,
	)
	if err != nil {
		return nil, fmt.Errorf("creating shader module: %w", err)
	}
	return module, nil
}

// PipelineConfig is what a graphics pipeline is assembled from.
type PipelineConfig struct {
	VertexShader   vk.ShaderModule
	FragmentShader vk.ShaderModule

	Binding    vk.VertexInputBindingDescription
	Attributes []vk.VertexInputAttributeDescription

	Layout     vk.PipelineLayout
	RenderPass vk.RenderPass
}

// CreateGraphicsPipeline assembles a triangle list pipeline with dynamic
// viewport and scissor, back face culling and a "less" depth test.
func CreateGraphicsPipeline(ctx *Context, cfg PipelineConfig) (*OwnedPipeline, error) {
	shaderStages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: cfg.VertexShader,
			PName:  "main\x00",
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: cfg.FragmentShader,
			PName:  "main\x00",
		},
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,

		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions:    []vk.VertexInputBindingDescription{cfg.Binding},

		VertexAttributeDescriptionCount: uint32(len(cfg.Attributes)),
		PVertexAttributeDescriptions:    cfg.Attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}

	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1,
		CullMode:                vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	colorBlendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit |
				vk.ColorComponentGBit |
				vk.ColorComponentBBit |
				vk.ColorComponentABit,
		),
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorZero,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorZero,
		AlphaBlendOp:        vk.BlendOpAdd,
	}

	colorBlending := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments: []vk.PipelineColorBlendAttachmentState{
			colorBlendAttachment,
		},
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.True,
		DepthWriteEnable:      vk.True,
		DepthCompareOp:        vk.CompareOpLess,
		DepthBoundsTestEnable: vk.False,
		MinDepthBounds:        0,
		MaxDepthBounds:        1,
		StencilTestEnable:     vk.False,
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlending,
		PDynamicState:       &dynamicState,
		Layout:              cfg.Layout,
		RenderPass:          cfg.RenderPass,
		Subpass:             0,
		BasePipelineHandle:  vk.Pipeline(vk.NullHandle),
		BasePipelineIndex:   -1,
	}

	pipeline, err := handle.Create(
		ctx.Device(),
		func(d Device) (vk.Pipeline, error) {
			return d.CreateGraphicsPipeline(d.Handle, &pipelineInfo)
		},
		destroyPipeline,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graphics pipeline: %w", err)
	}
	return pipeline, nil
}

// Pipeline bundles the descriptor set layout, the pipeline layout and the
// graphics pipeline which depend on each other.
type Pipeline struct {
	pipeline  *OwnedPipeline
	layout    *OwnedPipelineLayout
	setLayout *OwnedSetLayout
}

// PipelineSpec is PipelineConfig without the layout, which NewPipeline
// creates itself.
type PipelineSpec struct {
	VertexShader   vk.ShaderModule
	FragmentShader vk.ShaderModule

	Binding    vk.VertexInputBindingDescription
	Attributes []vk.VertexInputAttributeDescription

	RenderPass vk.RenderPass
}

// NewPipeline creates the descriptor set layout, the pipeline layout and the
// pipeline for spec.
func NewPipeline(ctx *Context, spec PipelineSpec) (*Pipeline, error) {
	var cleanup handle.Stack
	defer cleanup.Destroy()

	setLayout, err := CreateDescriptorSetLayout(ctx)
	if err != nil {
		return nil, err
	}
	cleanup.Push(setLayout)

	layout, err := CreatePipelineLayout(ctx, setLayout.Must())
	if err != nil {
		return nil, err
	}
	cleanup.Push(layout)

	pipeline, err := CreateGraphicsPipeline(ctx, PipelineConfig{
		VertexShader:   spec.VertexShader,
		FragmentShader: spec.FragmentShader,
		Binding:        spec.Binding,
		Attributes:     spec.Attributes,
		Layout:         layout.Must(),
		RenderPass:     spec.RenderPass,
	})
	if err != nil {
		return nil, err
	}

	cleanup.Forget()
	return &Pipeline{
		pipeline:  pipeline,
		layout:    layout,
		setLayout: setLayout,
	}, nil
}

// Handle returns the graphics pipeline.
func (p *Pipeline) Handle() vk.Pipeline {
	return p.pipeline.Must()
}

// Layout returns the pipeline layout.
func (p *Pipeline) Layout() vk.PipelineLayout {
	return p.layout.Must()
}

// SetLayout returns the descriptor set layout per-frame sets are allocated
// with.
func (p *Pipeline) SetLayout() vk.DescriptorSetLayout {
	return p.setLayout.Must()
}

// Destroy releases the pipeline, then its layout, then the set layout.
func (p *Pipeline) Destroy() {
	if p == nil {
		return
	}
	p.pipeline.Destroy()
	p.layout.Destroy()
	p.setLayout.Destroy()
}
