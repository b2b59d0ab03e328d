// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/kortschak/imagecraft/internal/animation"
	"github.com/kortschak/imagecraft/internal/config"
	"github.com/kortschak/imagecraft/internal/imageops"
	"github.com/kortschak/imagecraft/internal/policy"
	"github.com/kortschak/imagecraft/internal/store"
	"github.com/kortschak/imagecraft/internal/svg"
	"github.com/kortschak/imagecraft/rpc"
)

var cliUID = rpc.UID{Module: "imagecraft", Service: "cli"}

// fidelity holds the flags common to commands that decimate animations.
type fidelity struct {
	integrity *float64
	policy    *string
}

func addFidelityFlags(fs *flag.FlagSet) fidelity {
	return fidelity{
		integrity: fs.Float64("integrity", math.NaN(), "fidelity target in [0, 1], overrides the policy"),
		policy:    fs.String("policy", "", "CEL fidelity policy expression, overrides the configured policy"),
	}
}

// fixed returns the explicit integrity if one was given.
func (f fidelity) fixed() *float64 {
	if math.IsNaN(*f.integrity) {
		return nil
	}
	return f.integrity
}

// resolve returns the policy selected by the flags and cfg.
func (f fidelity) resolve(cfg *config.Config) (*policy.Policy, error) {
	if v := f.fixed(); v != nil {
		return policy.Const(*v), nil
	}
	if *f.policy != "" {
		p, err := policy.Compile(*f.policy)
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		return p, nil
	}
	return policyOf(cfg)
}

func (c *cli) plan(args []string) int {
	fs := newFlagSet("plan", "<file.gif>")
	fid := addFidelityFlags(fs)
	id := fs.String("id", "", "plan identifier (default file base name)")
	storePath := fs.String("store", "", "plan cache database, overrides the configured store")
	remote := fs.String("remote", "", "plan service address as network:address")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *id == "" {
		*id = filepath.Base(path)
	}
	req := rpc.PlanRequest{ID: *id, Data: data, Integrity: fid.fixed()}

	ctx := context.Background()
	var res rpc.PlanResult
	if *remote != "" {
		if *fid.policy != "" {
			fmt.Fprintln(os.Stderr, "cannot use -policy with -remote")
			return 2
		}
		network, addr, err := parseAddr(*remote)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		client, err := rpc.Dial(ctx, network, addr, cliUID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to plan service: %v\n", err)
			return 1
		}
		defer client.Close()
		res, err = client.Plan(ctx, req)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	} else {
		pol, err := fid.resolve(c.cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if *storePath == "" {
			*storePath = c.cfg.Store
		}
		var db *store.DB
		if *storePath != "" {
			db, err = store.Open(*storePath, c.log)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to open plan store: %v\n", err)
				return 1
			}
			defer db.Close()
		}
		planner := rpc.Planner{Store: db, Log: c.log}
		res, err = planner.Plan(ctx, req, pol, budgetOf(c.cfg))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return printJSON(res)
}

func (c *cli) render(args []string) int {
	fs := newFlagSet("render", "<file.gif>")
	fid := addFidelityFlags(fs)
	out := fs.String("o", "", "output GIF path (required)")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	if fs.NArg() != 1 || *out == "" {
		fs.Usage()
		return 2
	}
	pol, err := fid.resolve(c.cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	var integrity animation.IntegrityFunc
	if pol != nil {
		integrity = pol.Integrity
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer f.Close()
	a, err := animation.Decode(f, filepath.Base(path), budgetOf(c.cfg), integrity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return 1
	}
	c.mlog.LogAttrs(context.Background(), slog.LevelInfo, "decimated", slog.String("id", a.ID), slog.Int("frames", len(a.Durations)), slog.Int("retained", len(a.Plan.Retained())), slog.Int64("footprint", a.Footprint()))

	err = writeFile(*out, func(w io.Writer) error {
		return gif.EncodeAll(w, a.GIF(nil))
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func (c *cli) thumb(args []string) int {
	fs := newFlagSet("thumb", "<image>")
	size := fs.Int("size", 0, "maximum length of the longest side in pixels (0 is unlimited)")
	radius := fs.String("radius", "", `corner radius: "8", "point:8", "width:0.1" or "height:0.1"`)
	border := fs.Float64("border", -1, "border width")
	borderColor := fs.String("border-color", "", "border colour as #rgb, #rrggbb or #rrggbbaa")
	bg := fs.String("bg", "", "background colour as #rgb, #rrggbb or #rrggbbaa")
	out := fs.String("o", "", "output PNG path (required)")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	if fs.NArg() != 1 || *out == "" {
		fs.Usage()
		return 2
	}

	render := c.cfg.Render
	round := render != nil
	opts, err := roundingOf(render)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *radius != "" {
		opts.Radius, err = parseRadius(*radius)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		round = true
	}
	if *border >= 0 {
		opts.BorderWidth = *border
		round = true
	}
	if *borderColor != "" {
		col, err := config.ParseColor(*borderColor)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		opts.BorderColor = col
		round = true
	}
	if *bg != "" {
		col, err := config.ParseColor(*bg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		opts.Background = col
		round = true
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var img image.Image
	if svg.IsSVG(r) {
		data, err := io.ReadAll(r)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		img, err = svg.Canvas{PreserveAspectRatio: true}.Rasterize(data, image.Pt(*size, *size))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return 1
		}
	} else {
		var format string
		img, format, err = imageops.Downsample(r, *size)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return 1
		}
		c.mlog.LogAttrs(context.Background(), slog.LevelDebug, "decoded", slog.String("path", path), slog.String("format", format), slog.Any("bounds", img.Bounds()))
	}
	if round {
		img = imageops.Raster{}.RoundCorners(img, opts)
	}

	err = writeFile(*out, func(w io.Writer) error {
		return png.Encode(w, img)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func (c *cli) svg(args []string) int {
	fs := newFlagSet("svg", "<file.svg>")
	width := fs.Int("w", 0, "output width in pixels (0 derives from height)")
	height := fs.Int("h", 0, "output height in pixels (0 derives from width)")
	stretch := fs.Bool("stretch", false, "stretch the document to fill the requested size")
	out := fs.String("o", "", "output PNG path (required)")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	if fs.NArg() != 1 || *out == "" {
		fs.Usage()
		return 2
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	img, err := svg.Canvas{PreserveAspectRatio: !*stretch}.Rasterize(data, image.Pt(*width, *height))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return 1
	}
	c.mlog.LogAttrs(context.Background(), slog.LevelDebug, "rasterized", slog.String("path", path), slog.Any("bounds", img.Bounds()))
	err = writeFile(*out, func(w io.Writer) error {
		return png.Encode(w, img)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func (c *cli) remote(args []string) int {
	fs := newFlagSet("remote", "who|dump|stop")
	addr := fs.String("addr", "", "plan service address as network:address (required)")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	if fs.NArg() != 1 || *addr == "" {
		fs.Usage()
		return 2
	}
	method := fs.Arg(0)
	switch method {
	case rpc.Who, rpc.Dump, rpc.Stop:
	default:
		fmt.Fprintf(os.Stderr, "unknown remote method: %s\n", method)
		fs.Usage()
		return 2
	}
	network, address, err := parseAddr(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx := context.Background()
	client, err := rpc.Dial(ctx, network, address, cliUID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to plan service: %v\n", err)
		return 1
	}
	defer client.Close()

	switch method {
	case rpc.Who:
		v, err := client.Who(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(v)
	case rpc.Dump:
		entries, err := client.Dump(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if entries == nil {
			entries = []store.Entry{}
		}
		return printJSON(entries)
	case rpc.Stop:
		err := client.Stop(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return 0
}

// printJSON writes the indented JSON encoding of v to stdout.
func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "\t")
	err := enc.Encode(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// writeFile creates the file at path and writes to it with fn.
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	err = fn(w)
	if err != nil {
		return errors.Join(err, f.Close())
	}
	err = w.Flush()
	if err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}
