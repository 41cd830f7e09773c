package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/notebook"
	"github.com/BaSui01/labnotebook/types"
)

type commandFunc func(ctx context.Context, args []string, stdout, stderr io.Writer) error

// notebookCommands 需要完整应用组装的子命令
var notebookCommands = map[string]commandFunc{
	"page":      runPage,
	"entry":     runEntry,
	"variation": runVariation,
	"execute":   runExecute,
	"lineage":   runLineage,
	"edges":     runEdges,
	"link":      runLink,
	"artifact":  runArtifact,
	"vars":      runVars,
	"types":     runTypes,
}

// =============================================================================
// 🔧 参数辅助
// =============================================================================

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parse 解析参数，允许位置参数出现在选项之前
func parse(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, errUsage
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func requireArgs(fs *flag.FlagSet, positional []string, n int, usage string) error {
	if len(positional) != n {
		fmt.Fprintf(fs.Output(), "Usage: labnotebook %s\n", usage)
		fs.PrintDefaults()
		return errUsage
	}
	return nil
}

func parseJSONObject(name, raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		raw = string(data)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, types.Errorf(types.ErrInvalidRequest, "--%s must be a JSON object", name).WithCause(err)
	}
	return out, nil
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// 📚 page
// =============================================================================

func runPage(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: labnotebook page create|get|list [options]")
		return errUsage
	}
	fs := newFlagSet("page "+args[0], stderr)
	configPath := configFlag(fs)
	notebookID := fs.String("notebook", "default", "Notebook id")
	title := fs.String("title", "", "Page title")
	pos, err := parse(fs, args[1:])
	if err != nil {
		return err
	}

	switch args[0] {
	case "create":
		if err := requireArgs(fs, pos, 0, "page create --notebook <id> --title <title>"); err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			p, err := a.svc.CreatePage(ctx, *notebookID, *title)
			if err != nil {
				return err
			}
			return writeJSON(stdout, p)
		})
	case "get":
		if err := requireArgs(fs, pos, 1, "page get <page-id>"); err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			p, err := a.svc.GetPage(ctx, pos[0])
			if err != nil {
				return err
			}
			return writeJSON(stdout, p)
		})
	case "list":
		return withApp(ctx, *configPath, func(a *app) error {
			pages, err := a.svc.ListPages(ctx, *notebookID)
			if err != nil {
				return err
			}
			return writeJSON(stdout, pages)
		})
	default:
		fmt.Fprintf(stderr, "Unknown page subcommand: %s\n", args[0])
		return errUsage
	}
}

// =============================================================================
// 📄 entry
// =============================================================================

func runEntry(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: labnotebook entry create|get|list|inputs [options]")
		return errUsage
	}
	fs := newFlagSet("entry "+args[0], stderr)
	configPath := configFlag(fs)
	pageID := fs.String("page", "", "Page id")
	entryType := fs.String("type", "", "Entry type (see 'labnotebook types')")
	title := fs.String("title", "", "Entry title")
	inputs := fs.String("inputs", "", "Inputs as a JSON object, or @file")
	parent := fs.String("parent", "", "Parent entry id (adds a derives_from edge)")
	tags := fs.String("tags", "", "Comma-separated tags")
	metadata := fs.String("metadata", "", "Metadata as a JSON object")
	pos, err := parse(fs, args[1:])
	if err != nil {
		return err
	}

	switch args[0] {
	case "create":
		if err := requireArgs(fs, pos, 0, "entry create --page <id> --type <type> --title <title> [--inputs <json>]"); err != nil {
			return err
		}
		in, err := parseJSONObject("inputs", *inputs)
		if err != nil {
			return err
		}
		meta, err := parseJSONObject("metadata", *metadata)
		if err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			e, err := a.svc.CreateEntry(ctx, notebook.CreateEntryParams{
				PageID:    *pageID,
				EntryType: *entryType,
				Title:     *title,
				Inputs:    in,
				ParentID:  *parent,
				Tags:      splitTags(*tags),
				Metadata:  meta,
			})
			if err != nil {
				return err
			}
			return writeJSON(stdout, e)
		})
	case "get":
		if err := requireArgs(fs, pos, 1, "entry get <entry-id>"); err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			e, err := a.svc.GetEntry(ctx, pos[0])
			if err != nil {
				return err
			}
			return writeJSON(stdout, e)
		})
	case "list":
		if err := requireArgs(fs, pos, 0, "entry list --page <id>"); err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			entries, err := a.svc.ListEntries(ctx, *pageID)
			if err != nil {
				return err
			}
			return writeJSON(stdout, entries)
		})
	case "inputs":
		if err := requireArgs(fs, pos, 1, "entry inputs <entry-id> --inputs <json>"); err != nil {
			return err
		}
		in, err := parseJSONObject("inputs", *inputs)
		if err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			e, err := a.svc.UpdateInputs(ctx, pos[0], in)
			if err != nil {
				return err
			}
			return writeJSON(stdout, e)
		})
	default:
		fmt.Fprintf(stderr, "Unknown entry subcommand: %s\n", args[0])
		return errUsage
	}
}

func runVariation(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("variation", stderr)
	configPath := configFlag(fs)
	title := fs.String("title", "", "Variation title")
	overrides := fs.String("overrides", "", "Input overrides as a JSON object (top-level keys replace)")
	tags := fs.String("tags", "", "Comma-separated tags (default: copied from base)")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := requireArgs(fs, pos, 1, "variation <base-entry-id> --title <title> [--overrides <json>]"); err != nil {
		return err
	}
	ov, err := parseJSONObject("overrides", *overrides)
	if err != nil {
		return err
	}
	return withApp(ctx, *configPath, func(a *app) error {
		v, err := a.svc.CreateVariation(ctx, pos[0], notebook.VariationParams{
			Title:          *title,
			InputOverrides: ov,
			Tags:           splitTags(*tags),
		})
		if err != nil {
			return err
		}
		return writeJSON(stdout, v)
	})
}

// =============================================================================
// ▶️ execute
// =============================================================================

func runExecute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("execute", stderr)
	configPath := configFlag(fs)
	async := fs.Bool("async", false, "Run on the worker pool; with several ids they execute concurrently")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		fmt.Fprintln(stderr, "Usage: labnotebook execute <entry-id>... [--async]")
		return errUsage
	}

	var results []*entry.Entry
	err = withApp(ctx, *configPath, func(a *app) error {
		if !*async {
			for _, id := range pos {
				e, err := a.svc.Execute(ctx, id)
				if err != nil {
					return err
				}
				results = append(results, e)
			}
			return nil
		}
		for _, id := range pos {
			if _, err := a.svc.Submit(ctx, id); err != nil {
				return err
			}
		}
		// 关闭执行池会等待已提交的任务完成
		a.pool.Close()
		for _, id := range pos {
			e, err := a.svc.GetEntry(ctx, id)
			if err != nil {
				return err
			}
			results = append(results, e)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(results) == 1 {
		return writeJSON(stdout, results[0])
	}
	return writeJSON(stdout, results)
}

// =============================================================================
// 🧬 lineage
// =============================================================================

func runLineage(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("lineage", stderr)
	configPath := configFlag(fs)
	depth := fs.Int("depth", 0, "Traversal depth (0 = configured default; clamped to the maximum)")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := requireArgs(fs, pos, 1, "lineage <entry-id> [--depth N]"); err != nil {
		return err
	}
	return withApp(ctx, *configPath, func(a *app) error {
		l, err := a.svc.GetLineage(ctx, pos[0], *depth)
		if err != nil {
			return err
		}
		return writeJSON(stdout, l)
	})
}

func runEdges(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("edges", stderr)
	configPath := configFlag(fs)
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := requireArgs(fs, pos, 1, "edges <entry-id>"); err != nil {
		return err
	}
	return withApp(ctx, *configPath, func(a *app) error {
		edges, err := a.svc.Edges(ctx, pos[0])
		if err != nil {
			return err
		}
		return writeJSON(stdout, edges)
	})
}

func runLink(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("link", stderr)
	configPath := configFlag(fs)
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := requireArgs(fs, pos, 2, "link <parent-id> <child-id>"); err != nil {
		return err
	}
	return withApp(ctx, *configPath, func(a *app) error {
		if err := a.svc.AddDependency(ctx, pos[0], pos[1]); err != nil {
			return err
		}
		return writeJSON(stdout, map[string]string{"parent_id": pos[0], "child_id": pos[1], "relationship": "derives_from"})
	})
}

// =============================================================================
// 💾 artifact
// =============================================================================

func runArtifact(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: labnotebook artifact put|get|info [options]")
		return errUsage
	}
	fs := newFlagSet("artifact "+args[0], stderr)
	configPath := configFlag(fs)
	mediaType := fs.String("type", "", "Media type (default: guessed from the file extension)")
	out := fs.String("out", "", "Write bytes to this file instead of stdout")
	thumbnail := fs.Bool("thumbnail", false, "Fetch the thumbnail instead of the artifact")
	pos, err := parse(fs, args[1:])
	if err != nil {
		return err
	}

	switch args[0] {
	case "put":
		if err := requireArgs(fs, pos, 1, "artifact put <file> [--type <media-type>]"); err != nil {
			return err
		}
		data, err := os.ReadFile(pos[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", pos[0], err)
		}
		mt := *mediaType
		if mt == "" {
			mt = mime.TypeByExtension(filepath.Ext(pos[0]))
		}
		if mt == "" {
			mt = blob.DefaultMediaType
		}
		return withApp(ctx, *configPath, func(a *app) error {
			hash, err := a.svc.StoreArtifact(ctx, data, mt)
			if err != nil {
				return err
			}
			info, err := a.svc.ArtifactInfo(ctx, hash)
			if err != nil {
				return err
			}
			return writeJSON(stdout, info)
		})
	case "get":
		if err := requireArgs(fs, pos, 1, "artifact get <hash> [--out <file>] [--thumbnail]"); err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			var (
				data []byte
				err  error
			)
			if *thumbnail {
				data, err = a.svc.RetrieveThumbnail(ctx, pos[0])
			} else {
				data, err = a.svc.RetrieveArtifact(ctx, pos[0])
			}
			if err != nil {
				return err
			}
			if *out == "" {
				_, err = stdout.Write(data)
				return err
			}
			return os.WriteFile(*out, data, 0o644)
		})
	case "info":
		if err := requireArgs(fs, pos, 1, "artifact info <hash>"); err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			info, err := a.svc.ArtifactInfo(ctx, pos[0])
			if err != nil {
				return err
			}
			return writeJSON(stdout, info)
		})
	default:
		fmt.Fprintf(stderr, "Unknown artifact subcommand: %s\n", args[0])
		return errUsage
	}
}

// =============================================================================
// 🔧 vars
// =============================================================================

func runVars(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: labnotebook vars set|list|delete [options]")
		return errUsage
	}
	fs := newFlagSet("vars "+args[0], stderr)
	configPath := configFlag(fs)
	pos, err := parse(fs, args[1:])
	if err != nil {
		return err
	}

	switch args[0] {
	case "set":
		if err := requireArgs(fs, pos, 3, "vars set <entry-type> <name> <json-value>"); err != nil {
			return err
		}
		var value any
		if err := json.Unmarshal([]byte(pos[2]), &value); err != nil {
			// 非 JSON 值按字符串保存
			value = pos[2]
		}
		return withApp(ctx, *configPath, func(a *app) error {
			if err := a.svc.SetVariable(ctx, pos[0], pos[1], value); err != nil {
				return err
			}
			vars, err := a.svc.Variables(ctx, pos[0])
			if err != nil {
				return err
			}
			return writeJSON(stdout, vars)
		})
	case "list":
		if err := requireArgs(fs, pos, 1, "vars list <entry-type>"); err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			vars, err := a.svc.Variables(ctx, pos[0])
			if err != nil {
				return err
			}
			return writeJSON(stdout, vars)
		})
	case "delete":
		if err := requireArgs(fs, pos, 2, "vars delete <entry-type> <name>"); err != nil {
			return err
		}
		return withApp(ctx, *configPath, func(a *app) error {
			return a.svc.DeleteVariable(ctx, pos[0], pos[1])
		})
	default:
		fmt.Fprintf(stderr, "Unknown vars subcommand: %s\n", args[0])
		return errUsage
	}
}

func runTypes(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("types", stderr)
	configPath := configFlag(fs)
	if _, err := parse(fs, args); err != nil {
		return err
	}
	return withApp(ctx, *configPath, func(a *app) error {
		return writeJSON(stdout, a.registry.Types())
	})
}
