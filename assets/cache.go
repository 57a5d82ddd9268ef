// Package assets loads shaders, textures and models by name and keeps the
// device objects made from them until they are evicted or the cache closes.
package assets

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/geometry"
	"vulkan-lifetime/render"
)

// Cache is a name keyed store over a file system. It is not safe for
// concurrent use; all methods must run on the rendering thread.
type Cache struct {
	ctx    *render.Context
	fsys   fs.FS
	logger *slog.Logger

	shaders  map[string]*render.OwnedShaderModule
	textures map[string]*render.Image
	models   map[string]geometry.Mesh

	// Evicted textures may still be bound in descriptor sets of frames in
	// flight, so they live until Close.
	retired []*render.Image
}

// NewCache returns an empty cache reading from fsys.
func NewCache(ctx *render.Context, fsys fs.FS, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		ctx:      ctx,
		fsys:     fsys,
		logger:   logger.With("component", "assets"),
		shaders:  make(map[string]*render.OwnedShaderModule),
		textures: make(map[string]*render.Image),
		models:   make(map[string]geometry.Mesh),
	}
}

// Shader returns the shader module built from the SPIR-V file name. The
// module belongs to the cache.
func (c *Cache) Shader(name string) (vk.ShaderModule, error) {
	name = path.Clean(name)
	if module, ok := c.shaders[name]; ok {
		return module.Must(), nil
	}

	code, err := fs.ReadFile(c.fsys, name)
	if err != nil {
		return vk.NullShaderModule, fmt.Errorf("reading shader %s: %w", name, err)
	}

	module, err := render.CreateShaderModule(c.ctx.Device(), code)
	if err != nil {
		return vk.NullShaderModule, fmt.Errorf("shader %s: %w", name, err)
	}

	c.shaders[name] = module
	c.logger.Debug("loaded shader", "name", name, "bytes", len(code))
	return module.Must(), nil
}

// Texture returns the sampled image uploaded from the image file name.
func (c *Cache) Texture(name string) (*render.Image, error) {
	name = path.Clean(name)
	if texture, ok := c.textures[name]; ok {
		return texture, nil
	}

	fh, err := c.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open texture file: %w", err)
	}
	defer fh.Close()

	img, err := DecodeRGBA(fh)
	if err != nil {
		return nil, fmt.Errorf("texture %s: %w", name, err)
	}

	size := img.Bounds().Size()
	texture, err := render.UploadTexture(c.ctx, img.Pix, vk.Extent2D{
		Width:  uint32(size.X),
		Height: uint32(size.Y),
	}, vk.FormatR8g8b8a8Srgb)
	if err != nil {
		return nil, fmt.Errorf("texture %s: %w", name, err)
	}

	c.textures[name] = texture
	c.logger.Debug("loaded texture", "name", name, "width", size.X, "height", size.Y)
	return texture, nil
}

// Model returns the mesh decoded from the OBJ file name.
func (c *Cache) Model(name string) (geometry.Mesh, error) {
	name = path.Clean(name)
	if mesh, ok := c.models[name]; ok {
		return mesh, nil
	}

	fh, err := c.fsys.Open(name)
	if err != nil {
		return geometry.Mesh{}, fmt.Errorf("failed to open model file: %w", err)
	}
	defer fh.Close()

	mesh, err := geometry.FromOBJ(fh)
	if err != nil {
		return geometry.Mesh{}, fmt.Errorf("model %s: %w", name, err)
	}

	c.models[name] = mesh
	c.logger.Debug("loaded model", "name", name,
		"vertices", len(mesh.Vertices), "indices", len(mesh.Indices))
	return mesh, nil
}

// Evict forgets every entry loaded from name so the next lookup reads the
// file again. Shader modules are destroyed right away. It reports whether
// anything was cached under name.
func (c *Cache) Evict(name string) bool {
	name = path.Clean(name)
	found := false

	if module, ok := c.shaders[name]; ok {
		module.Destroy()
		delete(c.shaders, name)
		found = true
	}
	if texture, ok := c.textures[name]; ok {
		c.retired = append(c.retired, texture)
		delete(c.textures, name)
		found = true
	}
	if _, ok := c.models[name]; ok {
		delete(c.models, name)
		found = true
	}

	if found {
		c.logger.Info("evicted asset", "name", name)
	}
	return found
}

// Len is the number of live cache entries.
func (c *Cache) Len() int {
	return len(c.shaders) + len(c.textures) + len(c.models)
}

// Close destroys every device object the cache made. The device must be idle.
func (c *Cache) Close() {
	for name, module := range c.shaders {
		module.Destroy()
		delete(c.shaders, name)
	}
	for name, texture := range c.textures {
		texture.Destroy()
		delete(c.textures, name)
	}
	for _, texture := range c.retired {
		texture.Destroy()
	}
	c.retired = nil
	clear(c.models)
}
