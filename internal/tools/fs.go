package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RootFunc yields the workspace root tools operate under. It errors when
// no workspace is active.
type RootFunc func() (string, error)

// maxReadBytes caps read_file output so one tool call cannot flood the
// transport.
const maxReadBytes = 256 * 1024

// Builtin returns the read-only filesystem tools scoped to root.
func Builtin(root RootFunc) []Tool {
	return []Tool{
		&listDirTool{root: root},
		&readFileTool{root: root},
		&findTextTool{root: root},
	}
}

// resolveInRoot joins rel onto the workspace root and rejects escapes.
func resolveInRoot(root RootFunc, rel string) (string, error) {
	base, err := root()
	if err != nil {
		return "", err
	}
	abs := filepath.Join(base, rel)
	clean := filepath.Clean(abs)
	if clean != base && !strings.HasPrefix(clean, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project root", rel)
	}
	return clean, nil
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

type listDirTool struct {
	root RootFunc
}

func (t *listDirTool) Name() string        { return "list_dir" }
func (t *listDirTool) CanEdit() bool       { return false }
func (t *listDirTool) Description() string { return "List entries of a directory inside the active project." }

func (t *listDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path relative to the project root. Defaults to the root.",
			},
		},
	}
}

func (t *listDirTool) Apply(ctx context.Context, args map[string]interface{}) (string, error) {
	rel := "."
	if v, ok := args["path"].(string); ok && v != "" {
		rel = v
	}
	dir, err := resolveInRoot(t.root, rel)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading directory: %w", err)
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
}

type readFileTool struct {
	root RootFunc
}

func (t *readFileTool) Name() string        { return "read_file" }
func (t *readFileTool) CanEdit() bool       { return false }
func (t *readFileTool) Description() string { return "Read a file inside the active project." }

func (t *readFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path relative to the project root.",
			},
		},
		"required": []interface{}{"path"},
	}
}

func (t *readFileTool) Apply(ctx context.Context, args map[string]interface{}) (string, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	path, err := resolveInRoot(t.root, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

type findTextTool struct {
	root RootFunc
}

func (t *findTextTool) Name() string        { return "find_text" }
func (t *findTextTool) CanEdit() bool       { return false }
func (t *findTextTool) Description() string { return "Find lines containing a substring across project files." }

func (t *findTextTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Substring to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Subdirectory to search under. Defaults to the project root.",
			},
		},
		"required": []interface{}{"text"},
	}
}

// findText walks files under the root looking for needle. Hidden
// directories are skipped. Results are capped at 200 matches.
func (t *findTextTool) Apply(ctx context.Context, args map[string]interface{}) (string, error) {
	needle, err := stringArg(args, "text")
	if err != nil {
		return "", err
	}
	rel := "."
	if v, ok := args["path"].(string); ok && v != "" {
		rel = v
	}
	start, err := resolveInRoot(t.root, rel)
	if err != nil {
		return "", err
	}
	base, err := t.root()
	if err != nil {
		return "", err
	}

	const maxMatches = 200
	var matches []string
	err = filepath.WalkDir(start, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != start {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(matches) >= maxMatches {
			return filepath.SkipAll
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		relPath, _ := filepath.Rel(base, path)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if strings.Contains(line, needle) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", relPath, lineNo, strings.TrimSpace(line)))
				if len(matches) >= maxMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No matches for %q", needle), nil
	}
	return strings.Join(matches, "\n"), nil
}
