package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/voxelstack/patchset/voxel"
	"github.com/voxelstack/patchset/wkw"
)

// cache is the two-tier sub-volume cache: an in-process table of full
// registered bounding boxes, and a local disk mirror in the same block format
// as the source volumes. Lookups always fall back memory -> disk -> source.
//
// The memory table is mutated lazily by the same calls that read it.
// Concurrent first access to a key costs at most a duplicate fetch (the fetch
// is idempotent), and singleflight suppresses most of those; entries are
// replaced whole under the lock, so no torn cube is ever observable.
type cache struct {
	memEnabled  bool
	diskEnabled bool
	diskRoot    string

	mu  sync.RWMutex
	mem map[string]map[string]*voxel.Cube // path -> canonical bbox -> cube

	flight singleflight.Group
}

func newCache(memEnabled, diskEnabled bool, diskRoot string) *cache {
	if diskRoot == "" {
		diskRoot = "."
	}
	return &cache{
		memEnabled:  memEnabled,
		diskEnabled: diskEnabled,
		diskRoot:    diskRoot,
		mem:         make(map[string]map[string]*voxel.Cube),
	}
}

// enabled reports whether any tier is active.
func (c *cache) enabled() bool {
	return c.memEnabled || c.diskEnabled
}

// diskPath mirrors a source volume path under the cache root.
func (c *cache) diskPath(path string) string {
	trimmed := strings.TrimPrefix(path, string(filepath.Separator))
	if vol := filepath.VolumeName(trimmed); vol != "" {
		trimmed = trimmed[len(vol):]
	}
	return filepath.Join(c.diskRoot, trimmed)
}

// readStore does a full, uncached read from the authoritative store.
func readStore(path string, bbox voxel.BBox) (*voxel.Cube, error) {
	d, err := wkw.Open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Read(bbox.Origin, bbox.Extent)
}

// complete reports whether a cached cube passes the completeness check: every
// one of its six bounding faces holds at least one non-zero voxel. A
// truncated or partially mirrored copy fails this and is re-fetched.
func complete(c *voxel.Cube) bool {
	last := c.Size.Sub(voxel.Vec3{1, 1, 1})
	faces := [6]struct{ axis, pos int }{
		{0, 0}, {0, last[0]},
		{1, 0}, {1, last[1]},
		{2, 0}, {2, last[2]},
	}
	for _, face := range faces {
		if !faceHasValue(c, face.axis, face.pos) {
			return false
		}
	}
	return true
}

func faceHasValue(c *voxel.Cube, axis, pos int) bool {
	lo, hi := voxel.Vec3{}, c.Size
	lo[axis], hi[axis] = pos, pos+1
	for ch := 0; ch < c.Channels; ch++ {
		for x := lo[0]; x < hi[0]; x++ {
			for y := lo[1]; y < hi[1]; y++ {
				for z := lo[2]; z < hi[2]; z++ {
					if c.At(ch, x, y, z) != 0 {
						return true
					}
				}
			}
		}
	}
	return false
}

// fill materializes one (path, bbox) entry in every enabled tier. The disk
// tier is consulted first and trusted only if it passes the completeness
// check; otherwise the authoritative source is re-read. Concurrent fills of
// the same key share one fetch.
func (c *cache) fill(path string, bbox voxel.BBox) error {
	key := path + "|" + bbox.String()
	_, err, _ := c.flight.Do(key, func() (any, error) {
		return nil, c.fillLocked(path, bbox)
	})
	return err
}

func (c *cache) fillLocked(path string, bbox voxel.BBox) error {
	cachePath := c.diskPath(path)

	var data *voxel.Cube
	var err error
	if c.diskEnabled && wkw.Exists(cachePath) {
		data, err = readStore(cachePath, bbox)
		if err == nil && !complete(data) {
			klog.V(1).Infof("cache entry %s %s incomplete, re-fetching", cachePath, bbox)
			data = nil
		}
		if err != nil {
			klog.V(1).Infof("cache entry %s %s unreadable (%v), re-fetching", cachePath, bbox, err)
			data = nil
		}
	}
	if data == nil {
		data, err = readStore(path, bbox)
		if err != nil {
			return fmt.Errorf("fill cache for %s %s: %w", path, bbox, err)
		}
	}

	if c.memEnabled {
		c.mu.Lock()
		byBox, ok := c.mem[path]
		if !ok {
			byBox = make(map[string]*voxel.Cube)
			c.mem[path] = byBox
		}
		byBox[bbox.String()] = data
		c.mu.Unlock()
	}

	if c.diskEnabled {
		if err := os.MkdirAll(cachePath, 0o755); err != nil {
			return fmt.Errorf("fill cache for %s: %w", path, err)
		}
		if !wkw.Exists(cachePath) {
			header, err := wkw.ReadHeader(path)
			if err != nil {
				return fmt.Errorf("fill cache for %s: %w", path, err)
			}
			if err := wkw.Create(cachePath, header); err != nil {
				return err
			}
		}
		d, err := wkw.Open(cachePath)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Write(bbox.Origin, data); err != nil {
			return fmt.Errorf("fill cache for %s %s: %w", path, bbox, err)
		}
	}
	return nil
}

// fillAll prefetches the registered input and target boxes of every source,
// a handful of sources at a time.
func (c *cache) fillAll(sources []DataSource) error {
	var g errgroup.Group
	g.SetLimit(4)
	for i, src := range sources {
		klog.V(1).Infof("filling caches ... data source %d/%d", i+1, len(sources))
		src := src
		g.Go(func() error {
			if err := c.fill(src.InputPath, src.InputBBox); err != nil {
				return err
			}
			if src.Binary() {
				return nil
			}
			return c.fill(src.TargetPath, src.TargetBBox)
		})
	}
	return g.Wait()
}

// memLookup returns the cached cube for a source's full registered box, if
// the memory tier holds it.
func (c *cache) memLookup(path string, full voxel.BBox) (*voxel.Cube, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byBox, ok := c.mem[path]
	if !ok {
		return nil, false
	}
	cube, ok := byBox[full.String()]
	return cube, ok
}

// readCached serves a requested window through the tier fallback: slice the
// memory-resident full box, else read the disk mirror, else read the
// authoritative source directly.
func (c *cache) readCached(src DataSource, role Role, requested voxel.BBox) (*voxel.Cube, error) {
	path := src.PathFor(role)
	full := src.BBoxFor(role)

	if cube, ok := c.memLookup(path, full); ok {
		lo, hi, err := voxel.RelativeSlice(full, requested)
		if err != nil {
			return nil, fmt.Errorf("cached read %s: %w", path, err)
		}
		return cube.SubCube(lo, hi)
	}

	cachePath := c.diskPath(path)
	if wkw.Exists(cachePath) {
		data, err := readStore(cachePath, requested)
		if err == nil && complete(data) {
			return data, nil
		}
	}

	return readStore(path, requested)
}

// diskUsage walks the disk-tier root and returns the total cached bytes plus
// a human-readable rendering.
func (c *cache) diskUsage() (int64, string, error) {
	var total int64
	err := filepath.Walk(c.diskRoot, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("cache disk usage: %w", err)
	}
	return total, humanize.IBytes(uint64(total)), nil
}
