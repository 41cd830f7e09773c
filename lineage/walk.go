package lineage

import "context"

type stepFunc func(ctx context.Context, id string) ([]string, error)

// walk is an iterative breadth-first traversal from start. visit receives each
// level's newly discovered ids (depth starts at 1) and may stop the walk.
// limit <= 0 walks until the frontier is exhausted; the visited set keeps
// that finite even on cyclic input.
func walk(ctx context.Context, start string, limit int, step stepFunc, visit func(depth int, level []string) (bool, error)) error {
	visited := map[string]struct{}{start: {}}
	frontier := []string{start}

	for depth := 1; len(frontier) > 0 && (limit <= 0 || depth <= limit); depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var next []string
		for _, id := range frontier {
			neighbours, err := step(ctx, id)
			if err != nil {
				return err
			}
			for _, n := range neighbours {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				next = append(next, n)
			}
		}
		if len(next) == 0 {
			return nil
		}

		stop, err := visit(depth, next)
		if err != nil || stop {
			return err
		}
		frontier = next
	}
	return nil
}
