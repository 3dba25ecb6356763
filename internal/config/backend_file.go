package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// fileBackend keeps settings as one flat JSON object. It is the platform
// backend outside macOS and the backend used by tests everywhere.
type fileBackend struct {
	path string

	mu   sync.Mutex
	data map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: map[string]any{}}
	if err := readJSONFile(path, &b.data); err != nil {
		slog.Warn("ignoring unreadable config file, using defaults", "path", path, "error", err)
		b.data = map[string]any{}
	}
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	b.mu.Lock()
	v, ok := b.data[key]
	b.mu.Unlock()
	if !ok {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	b.mu.Lock()
	v, ok := b.data[key]
	b.mu.Unlock()
	if !ok {
		return 0, false, nil
	}
	i, err := intValue(key, v)
	return i, true, err
}

func (b *fileBackend) SetString(key, val string) error { return b.update(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.update(key, val) }

func (b *fileBackend) Delete(key string) error { return b.update(key, nil) }

// update sets key (or removes it when val is nil) and rewrites the file.
func (b *fileBackend) update(key string, val any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if val == nil {
		delete(b.data, key)
	} else {
		b.data[key] = val
	}
	return writeJSONFile(b.path, b.data, 0o600)
}

// intValue converts a stored setting to an int. JSON numbers arrive as
// float64 and the macOS defaults tool returns strings.
func intValue(key string, v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case float64:
		if val != math.Trunc(val) || val < math.MinInt || val > math.MaxInt {
			return 0, fmt.Errorf("%s: %v is not a whole number in range", key, val)
		}
		return int(val), nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

// readJSONFile decodes path into v. A missing file leaves v untouched.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSONFile replaces path with the indented JSON of v via a sibling
// temp file and a rename.
func writeJSONFile(path string, v any, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
