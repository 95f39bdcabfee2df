package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yaml "go.yaml.in/yaml/v3"
)

// SetInterface rewrites monitor.interface in the config file at path.
//
// YAML files are edited through the node tree so comments and key order
// survive. JSON files are re-encoded. A missing file is created with only
// that key set. The write is atomic (temp file + rename), which a running
// daemon observes through Watch.
func SetInterface(path, name string) error {
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	var out []byte
	if isYAMLPath(path) {
		out, err = setYAMLKey(b, []string{"monitor", "interface"}, name)
	} else {
		out, err = setJSONKey(b, []string{"monitor", "interface"}, name)
	}
	if err != nil {
		return fmt.Errorf("edit %s: %w", path, err)
	}
	return writeFileAtomic(path, out, 0o644)
}

func setYAMLKey(src []byte, keys []string, value string) ([]byte, error) {
	var doc yaml.Node
	if len(bytes.TrimSpace(src)) > 0 {
		if err := yaml.Unmarshal(src, &doc); err != nil {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("top-level yaml value must be a mapping")
	}

	cur := doc.Content[0]
	for i, k := range keys {
		last := i == len(keys)-1
		var val *yaml.Node
		for j := 0; j+1 < len(cur.Content); j += 2 {
			if cur.Content[j].Value == k {
				val = cur.Content[j+1]
				break
			}
		}
		if val == nil {
			val = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			if last {
				val = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str"}
			}
			cur.Content = append(cur.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, val)
		}
		if last {
			val.Kind = yaml.ScalarNode
			val.Tag = "!!str"
			val.Value = value
			val.Content = nil
			break
		}
		if val.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%s is not a mapping", k)
		}
		cur = val
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setJSONKey(src []byte, keys []string, value string) ([]byte, error) {
	root := map[string]any{}
	if len(bytes.TrimSpace(src)) > 0 {
		if err := json.Unmarshal(src, &root); err != nil {
			return nil, fmt.Errorf("json unmarshal: %w", err)
		}
	}
	cur := root
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			if _, exists := cur[k]; exists && cur[k] != nil {
				return nil, fmt.Errorf("%s is not an object", k)
			}
			next = map[string]any{}
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value

	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
