package parser

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zhaobenny/picost/internal/logger"
	"github.com/zhaobenny/picost/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSessionsDir is the pi agent session directory relative to the home directory
const DefaultSessionsDir = ".pi/agent/sessions"

// FindSessionFiles returns the absolute paths of all JSONL files under root.
// Unreadable entries are skipped and a missing root yields no files.
func FindSessionFiles(root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() && filepath.Ext(path) == ".jsonl" {
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	return files, err
}

// ParseFile reads a whole session log and aggregates its costs
func ParseFile(ctx context.Context, path string) (*model.SessionCost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ctx = logger.With(ctx, zap.String("file", path))
	result, err := ProcessContent(ctx, string(data))
	if err != nil {
		var malformed *MalformedRecordError
		if errors.As(err, &malformed) {
			malformed.Path = path
		}
		return nil, err
	}

	result.Path = path
	return result, nil
}

// ParseAllFiles processes every session log under root using up to workers
// concurrent readers. Results are returned in discovery order. The first
// failing file aborts the whole run.
func ParseAllFiles(ctx context.Context, root string, workers int) ([]*model.SessionCost, error) {
	files, err := FindSessionFiles(root)
	if err != nil {
		return nil, err
	}

	if workers < 1 {
		workers = 1
	}

	results := make([]*model.SessionCost, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := ParseFile(ctx, file)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("parsed session files", zap.Int("files", len(files)), zap.String("root", root))
	return results, nil
}
