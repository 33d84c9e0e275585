// Command mstcli inspects Merkle Search Tree archives from the outside:
// it is a thin consumer of the blockstore/mst packages, with no tree
// algorithm of its own.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/gloudx/mstengine/blockstore"
	"github.com/gloudx/mstengine/mst"
	"github.com/ipfs/go-cid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

const (
	AppName    = "mstcli"
	AppVersion = "1.0.0"
)

func main() {
	app := &cli.App{
		Name:     AppName,
		Version:  AppVersion,
		Usage:    "Inspect and manipulate Merkle Search Tree archives",
		Compiled: time.Now(),
		Commands: []*cli.Command{
			infoCommand(),
			listCommand(),
			dumpCommand(),
			dumpRecordCommand(),
			compactCommand(),
			diffCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openArchiveArg(c *cli.Context, argIdx int) (*blockstore.Archive, error) {
	path := c.Args().Get(argIdx)
	if path == "" {
		return nil, fmt.Errorf("missing archive path argument")
	}
	return blockstore.OpenArchive(path)
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Print an archive's header: version and root CID",
		ArgsUsage: "<archive.car>",
		Action: func(c *cli.Context) error {
			a, err := openArchiveArg(c, 0)
			if err != nil {
				return err
			}
			defer a.Close()

			t := table.NewWriter()
			t.AppendHeader(table.Row{"Field", "Value"})
			t.AppendRow(table.Row{"version", a.Header().Version})
			t.AppendRow(table.Row{"root", a.Root().String()})
			t.Render()
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List every key/value pair reachable from the archive's root",
		ArgsUsage: "<archive.car>",
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			a, err := openArchiveArg(c, 0)
			if err != nil {
				return err
			}
			defer a.Close()

			ns := mst.NewNodeStore(a)
			w, err := mst.NewWalker(ctx, ns, a.Root())
			if err != nil {
				return err
			}
			kvs, err := w.IterKV(ctx)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.AppendHeader(table.Row{"#", "Key", "Value CID"})
			for i, kv := range kvs {
				t.AppendRow(table.Row{i + 1, string(kv.Key), kv.Value.String()})
			}
			t.Render()
			return nil
		},
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "Print every node CID reachable from the archive's root",
		ArgsUsage: "<archive.car>",
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			a, err := openArchiveArg(c, 0)
			if err != nil {
				return err
			}
			defer a.Close()

			ns := mst.NewNodeStore(a)
			w, err := mst.NewWalker(ctx, ns, a.Root())
			if err != nil {
				return err
			}
			cids, err := w.IterNodeCIDs(ctx)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.AppendHeader(table.Row{"#", "Node CID"})
			for i, c := range cids {
				t.AppendRow(table.Row{i + 1, c.String()})
			}
			t.Render()
			return nil
		},
	}
}

func dumpRecordCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump_record",
		Usage:     "Print one record's value block as JSON",
		ArgsUsage: "<archive.car> <collection/rkey>",
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			a, err := openArchiveArg(c, 0)
			if err != nil {
				return err
			}
			defer a.Close()
			key := c.Args().Get(1)
			if key == "" {
				return fmt.Errorf("missing collection/rkey argument")
			}

			ns := mst.NewNodeStore(a)
			w, err := mst.NewWalker(ctx, ns, a.Root())
			if err != nil {
				return err
			}
			value, ok, err := w.Find(ctx, []byte(key))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(os.Stderr, "Record not found!")
				os.Exit(1)
			}

			raw, err := a.Get(ctx, value)
			if err != nil {
				return err
			}
			return printAsJSON(raw)
		},
	}
}

// printAsJSON re-emits raw bytes as JSON when they already decode as JSON,
// or falls back to a {"raw_base64": ...} envelope otherwise — value
// blocks in this engine are opaque payloads, not necessarily DAG-CBOR (§1).
func printAsJSON(raw []byte) error {
	var probe interface{}
	if json.Unmarshal(raw, &probe) == nil {
		out, err := json.MarshalIndent(probe, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	out, err := json.MarshalIndent(map[string]string{"raw_base64": base64.StdEncoding.EncodeToString(raw)}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// mapToSeq2 adapts a plain map into the iter.Seq2 WriteArchive expects.
func mapToSeq2(m map[cid.Cid][]byte) iter.Seq2[cid.Cid, []byte] {
	return func(yield func(cid.Cid, []byte) bool) {
		for c, b := range m {
			if !yield(c, b) {
				return
			}
		}
	}
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:      "compact",
		Usage:     "Re-write an archive, keeping only blocks reachable from its root",
		ArgsUsage: "<in.car> <out.car>",
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			inPath := c.Args().Get(0)
			outPath := c.Args().Get(1)
			if inPath == "" || outPath == "" {
				return fmt.Errorf("usage: compact <in.car> <out.car>")
			}

			a, err := blockstore.OpenArchive(inPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ns := mst.NewNodeStore(a)
			w, err := mst.NewWalker(ctx, ns, a.Root())
			if err != nil {
				return err
			}
			nodeCIDs, err := w.IterNodeCIDs(ctx)
			if err != nil {
				return err
			}

			// Collect every node's bytes plus every value CID it references,
			// matching cartool.py compact's reachability walk.
			blocks := make(map[cid.Cid][]byte, len(nodeCIDs))
			seenValues := map[cid.Cid]struct{}{}
			for _, nc := range nodeCIDs {
				raw, err := a.Get(ctx, nc)
				if err != nil {
					return err
				}
				blocks[nc] = raw

				n, err := mst.DeserializeNode(raw)
				if err != nil {
					return err
				}
				for _, v := range n.Values() {
					if _, ok := seenValues[v]; ok {
						continue
					}
					seenValues[v] = struct{}{}
					vRaw, err := a.Get(ctx, v)
					if err != nil {
						return err
					}
					blocks[v] = vRaw
				}
			}

			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer out.Close()

			return blockstore.WriteArchive(out, a.Root(), mapToSeq2(blocks))
		},
	}
}

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Print the record-level changes between two archives sharing block content",
		ArgsUsage: "<a.car> <b.car>",
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			aPath := c.Args().Get(0)
			bPath := c.Args().Get(1)
			if aPath == "" || bPath == "" {
				return fmt.Errorf("usage: diff <a.car> <b.car>")
			}

			aArchive, err := blockstore.OpenArchive(aPath)
			if err != nil {
				return err
			}
			defer aArchive.Close()
			bArchive, err := blockstore.OpenArchive(bPath)
			if err != nil {
				return err
			}
			defer bArchive.Close()

			overlay := blockstore.NewOverlay(bArchive, aArchive)
			ns := mst.NewNodeStore(overlay)

			result, err := mst.Diff(ctx, ns, aArchive.Root(), bArchive.Root())
			if err != nil {
				return err
			}
			changes, err := mst.RecordDiff(ctx, ns, result)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.AppendHeader(table.Row{"Kind", "Key", "Prior", "Later"})
			for _, ch := range changes {
				t.AppendRow(table.Row{ch.Kind.String(), string(ch.Key), ch.Prior.String(), ch.Later.String()})
			}
			t.Render()
			return nil
		},
	}
}
