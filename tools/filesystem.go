// tools/filesystem.go
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sammcj/toolloop/registry"
)

// FileSystemInput selects an operation on a path under the base directory
type FileSystemInput struct {
	Operation string `json:"operation" jsonschema:"enum=list,enum=read,enum=exists,enum=info"`
	Path      string `json:"path,omitempty" jsonschema_description:"Relative path within the base directory"`
}

// FileSystemTool provides read-only file system operations
type FileSystemTool struct {
	basePath string
}

// NewFileSystemTool creates a new file system tool
func NewFileSystemTool(basePath string) (*FileSystemTool, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	return &FileSystemTool{basePath: absPath}, nil
}

// Tool returns the registry entry for the filesystem tool
func (t *FileSystemTool) Tool() registry.Tool {
	return registry.NewTool("filesystem", "Perform file system operations within a specified directory", t.Execute)
}

// Execute handles file system operations
func (t *FileSystemTool) Execute(ctx context.Context, in FileSystemInput) (interface{}, error) {
	fullPath, err := t.resolve(in.Path)
	if err != nil {
		return nil, err
	}

	switch in.Operation {
	case "list":
		return t.list(fullPath)
	case "read":
		return t.read(fullPath)
	case "exists":
		_, err := os.Stat(fullPath)
		return err == nil, nil
	case "info":
		return t.info(fullPath)
	default:
		return nil, fmt.Errorf("unknown operation: %s", in.Operation)
	}
}

// resolve joins path onto the base and refuses anything that escapes it
func (t *FileSystemTool) resolve(path string) (string, error) {
	fullPath := filepath.Join(t.basePath, path)
	rel, err := filepath.Rel(t.basePath, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path is outside base directory")
	}
	return fullPath, nil
}

func (t *FileSystemTool) list(path string) (interface{}, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	files := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		files = append(files, map[string]interface{}{
			"name":  entry.Name(),
			"isDir": entry.IsDir(),
			"size":  size,
		})
	}
	return files, nil
}

func (t *FileSystemTool) read(path string) (interface{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (t *FileSystemTool) info(path string) (interface{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"name":    info.Name(),
		"size":    info.Size(),
		"mode":    info.Mode().String(),
		"modTime": info.ModTime(),
		"isDir":   info.IsDir(),
	}, nil
}
