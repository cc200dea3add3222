// Command dsjson inspects and reworks data-source descriptor files.
//
//	dsjson -mode info a.json              summarize entries
//	dsjson -mode shorten -out s.json a.json   factor shared properties
//	dsjson -mode expand -out l.json s.json    write the long form back
//	dsjson -mode concat -out all.json a.json b.json   merge and re-id
//	dsjson -mode diff a.json b.json       compare target classes
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/voxelstack/patchset/datasets"
)

func main() {
	mode := flag.String("mode", "info", "info, shorten, expand, concat or diff")
	out := flag.String("out", "", "output path for shorten, expand and concat")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("no descriptor files given")
	}
	if err := run(*mode, *out, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(mode, out string, paths []string) error {
	switch mode {
	case "info":
		sources, err := datasets.ReadJSON(paths[0])
		if err != nil {
			return err
		}
		shared, err := datasets.SharedProperties(sources)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d sources, %d shared properties\n", paths[0], len(sources), len(shared))
		for _, src := range sources {
			target := fmt.Sprintf("volume %s %s", src.TargetPath, src.TargetBBox)
			if src.Binary() {
				target = fmt.Sprintf("class %g", src.TargetClass)
			}
			fmt.Printf("  %s: input %s %s mean=%g std=%g target %s\n",
				src.ID, src.InputPath, src.InputBBox, src.InputMean, src.InputStd, target)
		}
		return nil

	case "shorten", "expand", "concat":
		if out == "" {
			return fmt.Errorf("mode %s requires -out", mode)
		}
		var sources []datasets.DataSource
		var err error
		if mode == "concat" {
			sources, err = datasets.Concat(paths)
		} else {
			sources, err = datasets.ReadJSON(paths[0])
		}
		if err != nil {
			return err
		}
		if mode == "shorten" {
			return datasets.WriteShortJSON(out, sources)
		}
		return datasets.WriteJSON(out, sources)

	case "diff":
		if len(paths) != 2 {
			return fmt.Errorf("mode diff requires exactly 2 files")
		}
		a, err := datasets.ReadJSON(paths[0])
		if err != nil {
			return err
		}
		b, err := datasets.ReadJSON(paths[1])
		if err != nil {
			return err
		}
		diffs, err := datasets.CompareTargets(a, b)
		if err != nil {
			return err
		}
		if len(diffs) == 0 {
			fmt.Println("no target differences")
			return nil
		}
		for _, d := range diffs {
			fmt.Printf("%s: %g -> %g\n", d.ID, d.A, d.B)
		}
		// Non-zero exit so scripts can detect drift.
		os.Exit(1)
		return nil
	}
	return fmt.Errorf("unknown mode %q", mode)
}
