// Command showsample renders the central z-slice of one sample's input and
// target windows to PNG heatmaps, for eyeballing what the model will see.
//
//	showsample -config run.toml -index 42 -out sample42
//
// writes sample42_input.png and, for volume targets, sample42_target.png.
package main

import (
	"flag"
	"fmt"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/voxelstack/patchset/datasets"
	"github.com/voxelstack/patchset/voxel"
)

func main() {
	configPath := flag.String("config", "", "TOML dataset config (must name datasources_json_path)")
	index := flag.Int("index", 0, "global sample index to render")
	out := flag.String("out", "sample", "output file prefix")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("missing -config")
	}
	cfg, err := datasets.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	ds, err := datasets.NewFromConfig(cfg, nil, nil)
	if err != nil {
		log.Fatal(err)
	}
	sample, err := ds.GetSample(*index)
	if err != nil {
		log.Fatal(err)
	}

	if err := renderSlice(sample.Input, fmt.Sprintf("%s_input.png", *out)); err != nil {
		log.Fatal(err)
	}
	if sample.Binary {
		fmt.Printf("sample %d target: class %g\n", *index, sample.TargetLabel)
		return
	}
	if err := renderSlice(sample.Target, fmt.Sprintf("%s_target.png", *out)); err != nil {
		log.Fatal(err)
	}
}

// renderSlice plots the central z-slice of channel 0 as a heatmap.
func renderSlice(c *voxel.Cube, path string) error {
	p := plot.New()
	p.Title.Text = path
	hm := plotter.NewHeatMap(&sliceGrid{cube: c, z: c.Size[2] / 2}, moreland.SmoothBlueRed().Palette(255))
	p.Add(hm)
	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// sliceGrid adapts one z-slice of a cube to plotter.GridXYZ.
type sliceGrid struct {
	cube *voxel.Cube
	z    int
}

func (g *sliceGrid) Dims() (cols, rows int) { return g.cube.Size[0], g.cube.Size[1] }
func (g *sliceGrid) X(c int) float64        { return float64(c) }
func (g *sliceGrid) Y(r int) float64        { return float64(r) }
func (g *sliceGrid) Z(c, r int) float64     { return float64(g.cube.At(0, c, r, g.z)) }
