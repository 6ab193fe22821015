package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const maxReadBytes = 256 * 1024

// RegisterBuiltins registers the filesystem and clock tools. File access is
// confined to root.
func RegisterBuiltins(r *Registry, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	for _, def := range []Definition{
		readFileTool(absRoot),
		listDirectoryTool(absRoot),
		currentTimeTool(),
	} {
		if err := r.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func readFileTool(root string) Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read a UTF-8 text file relative to the workspace root.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path, err := resolve(root, params["path"])
			if err != nil {
				return nil, err
			}

			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %w", err)
			}
			if len(data) > maxReadBytes {
				return string(data[:maxReadBytes]) + "\n... [file truncated]", nil
			}
			return string(data), nil
		},
	}
}

func listDirectoryTool(root string) Definition {
	return Definition{
		Name:        "list_directory",
		Description: "List entries of a directory relative to the workspace root. Directories end with a slash.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Directory path relative to the workspace, defaults to the root", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, ok := params["path"]
			if !ok {
				raw = "."
			}
			dir, err := resolve(root, raw)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil, fmt.Errorf("failed to list directory: %w", err)
			}

			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return strings.Join(names, "\n"), nil
		},
	}
}

func currentTimeTool() Definition {
	return Definition{
		Name:        "current_time",
		Description: "Return the current local time in RFC 3339 format.",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}
}

// resolve joins a relative path onto root and rejects escapes
func resolve(root string, raw interface{}) (string, error) {
	rel, ok := raw.(string)
	if !ok || rel == "" {
		return "", fmt.Errorf("path must be a non-empty string")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative to the workspace")
	}

	full := filepath.Join(root, rel)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}
	return full, nil
}
