package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/grove/pkg/protocol"
)

// loadTasks reads every task file in paths. "-" reads stdin.
func loadTasks(stdin io.Reader, paths []string) ([]*protocol.Map, error) {
	tasks := make([]*protocol.Map, 0, len(paths))
	for _, path := range paths {
		task, err := loadTask(stdin, path)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// loadTask reads one task. XML is decoded as markup, plain text becomes a
// description and anything else is parsed as YAML (which covers JSON).
func loadTask(stdin io.Reader, path string) (*protocol.Map, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", path, err)
	}

	var task *protocol.Map
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		task, err = protocol.Decode(string(data))
	case ".txt", ".md":
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, fmt.Errorf("task %s is empty", path)
		}
		task = protocol.MapOf("description", text)
	default:
		task, err = protocol.FromYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse task %s: %w", path, err)
	}
	if task.Len() == 0 {
		return nil, fmt.Errorf("task %s is empty", path)
	}
	return task, nil
}
