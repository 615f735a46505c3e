package asset

import (
	"context"
	"image"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Load decodes the files at paths concurrently, at most GOMAXPROCS at a
// time, and returns the images in input order. Cached paths are not decoded
// again. The first failure cancels the remaining decodes.
func (c *Cache) Load(ctx context.Context, paths []string) ([]*image.RGBA, error) {
	out := make([]*image.RGBA, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := c.Get(p)
			if err != nil {
				return err
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Cache decodes each path once. Concurrent requests for the same path
// share one decode. It is safe for concurrent use.
type Cache struct {
	opts   *DecodeOptions
	group  singleflight.Group
	mu     sync.RWMutex
	images map[string]*image.RGBA
}

// NewCache creates an empty cache decoding with opts.
func NewCache(opts *DecodeOptions) *Cache {
	return &Cache{opts: opts, images: make(map[string]*image.RGBA)}
}

// Get returns the decoded image at path. Failures are not cached.
func (c *Cache) Get(path string) (*image.RGBA, error) {
	c.mu.RLock()
	img, ok := c.images[path]
	c.mu.RUnlock()
	if ok {
		return img, nil
	}
	v, err, _ := c.group.Do(path, func() (any, error) {
		img, err := DecodeFile(path, c.opts)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.images[path] = img
		c.mu.Unlock()
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*image.RGBA), nil
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Forget drops path from the cache.
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
	c.group.Forget(path)
}
