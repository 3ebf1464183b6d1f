package file

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gymops/automation/pkg/persistence"
)

var (
	errNotExist = errors.New("record does not exist")
	errExist    = errors.New("record already exists")
)

// jsonDir stores one JSON document per id inside a directory.
type jsonDir struct {
	dir string
}

func newJSONDir(root, name string) jsonDir {
	return jsonDir{dir: filepath.Join(root, name)}
}

// validateID rejects ids that could escape the directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (d jsonDir) path(id string) (string, error) {
	err := validateID(id)
	if err != nil {
		return "", err
	}

	return filepath.Join(d.dir, id+".json"), nil
}

func (d jsonDir) read(id string, v any) error {
	filePath, err := d.path(id)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filePath) // #nosec G304 -- id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return errNotExist
		}

		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return nil
}

// write replaces the document atomically through a temp file and rename.
func (d jsonDir) write(id string, v any) error {
	filePath, err := d.path(id)
	if err != nil {
		return err
	}

	err = os.MkdirAll(d.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	err = os.Rename(tmp.Name(), filePath)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", id, err)
	}

	return nil
}

// create writes the document only if it does not exist yet. The content is
// linked into place complete, so readers never see a partial file.
func (d jsonDir) create(id string, v any) error {
	filePath, err := d.path(id)
	if err != nil {
		return err
	}

	err = os.MkdirAll(d.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	err = os.Link(tmp.Name(), filePath)
	if err != nil {
		if os.IsExist(err) {
			return errExist
		}

		return fmt.Errorf("failed to create %s: %w", filePath, err)
	}

	return nil
}

func (d jsonDir) remove(id string) error {
	filePath, err := d.path(id)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", filePath, err)
	}

	return nil
}

func (d jsonDir) ids() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", d.dir, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

// readAll loads every document in the directory.
func readAll[T any](d jsonDir) ([]*T, error) {
	ids, err := d.ids()
	if err != nil {
		return nil, err
	}

	items := make([]*T, 0, len(ids))

	for _, id := range ids {
		var item T

		err := d.read(id, &item)
		if errors.Is(err, errNotExist) {
			continue
		}

		if err != nil {
			return nil, err
		}

		items = append(items, &item)
	}

	return items, nil
}

// keyID derives a file-safe id from a composite key.
func keyID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))

	return hex.EncodeToString(sum[:])
}
