package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// LoadAndSave 在默认值之上读取 path 处的 YAML 文件并把合并结果写回,
// 文件或目录不存在时创建。最后应用环境变量覆盖, 覆盖值不会写入文件。
func LoadAndSave[T any](path string, defaults T, envPrefix string) (T, error) {
	var out T
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return out, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := loadFile(k, path); err != nil {
		return out, err
	}
	if err := unmarshal(k, &out); err != nil {
		return out, err
	}
	if err := Save(path, out); err != nil {
		return out, err
	}
	if err := loadEnvironment(k, envPrefix, keysOf(out)); err != nil {
		return out, err
	}
	if err := unmarshal(k, &out); err != nil {
		return out, err
	}
	return out, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	// 文件中的 map 整体替换默认值, 不做合并
	for key, v := range values {
		if _, ok := v.(map[string]any); ok {
			k.Delete(key)
		}
	}
	if err := k.Load(rawMap(values), nil); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadEnvironment(k *koanf.Koanf, prefix string, known map[string]bool) error {
	if prefix == "" {
		return nil
	}
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: prefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, prefix))
			if !known[key] {
				return "", nil
			}
			return key, value
		},
	}), nil)
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func unmarshal[T any](k *koanf.Koanf, out *T) error {
	if err := k.UnmarshalWithConf("", out, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return nil
}

// Save 把 v 写成 YAML, 字段的 `comment` 标签写在对应键的上方
func Save(path string, v any) error {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	comments := commentsOf(v)
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if c, ok := comments[node.Content[i].Value]; ok {
				node.Content[i].HeadComment = c
			}
		}
	}
	data, err := yaml.Marshal(&node)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func fields(v any) []reflect.StructField {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	out := make([]reflect.StructField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); f.IsExported() {
			out = append(out, f)
		}
	}
	return out
}

func commentsOf(v any) map[string]string {
	out := map[string]string{}
	for _, f := range fields(v) {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if c := f.Tag.Get("comment"); c != "" && name != "" {
			out[name] = "# " + strings.ReplaceAll(c, "\n", "\n# ")
		}
	}
	return out
}

// keysOf 列出可由环境变量覆盖的标量键
func keysOf(v any) map[string]bool {
	out := map[string]bool{}
	for _, f := range fields(v) {
		if f.Type.Kind() == reflect.Map || f.Type.Kind() == reflect.Struct {
			continue
		}
		if name := f.Tag.Get("koanf"); name != "" {
			out[name] = true
		}
	}
	return out
}

// rawMap 把 map[string]any 适配为 koanf.Provider
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}
