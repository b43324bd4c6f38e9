// Package i18n loads the bot's message catalogs and renders them.
//
// A catalog file maps language codes to nested sections of messages:
//
//	en:
//	  cancel:
//	    done: "Operation cancelled."
//
// Messages are addressed by their dotted path, here "cancel.done".
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var bundled embed.FS

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	Lang() string
}

// Vars are the placeholder values substituted by Render.
type Vars map[string]any

// messages maps a language to its flattened keys.
type messages map[string]map[string]string

func (m messages) merge(other messages) {
	for lang, entries := range other {
		if m[lang] == nil {
			m[lang] = make(map[string]string, len(entries))
		}
		for key, text := range entries {
			m[lang][key] = text
		}
	}
}

// Manager holds every loaded language.
type Manager struct {
	messages    messages
	defaultLang string
}

// Load reads the catalogs compiled into the binary.
func Load(defaultLang string) (*Manager, error) {
	return LoadFS(bundled, "locales", defaultLang)
}

// LoadFromDir reads catalogs from a directory on disk.
func LoadFromDir(dir, defaultLang string) (*Manager, error) {
	return LoadFS(os.DirFS(dir), ".", defaultLang)
}

// LoadFS reads every .yaml or .yml file in dir of fsys. Later files
// override keys of earlier ones.
func LoadFS(fsys fs.FS, dir, defaultLang string) (*Manager, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", dir, err)
	}

	all := messages{}
	files := 0
	for _, entry := range entries {
		ext := strings.ToLower(path.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files++

		name := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("i18n: read file %s: %w", name, err)
		}
		parsed, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("i18n: parse file %s: %w", name, err)
		}
		all.merge(parsed)
	}

	if files == 0 {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", dir)
	}
	if _, ok := all[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return &Manager{messages: all, defaultLang: defaultLang}, nil
}

// Translator returns a translator for lang. Region suffixes such as
// "hi-IN" are ignored and unknown languages get the default one.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(lang)), "-")
	base, _, _ = strings.Cut(base, "_")
	if _, ok := m.messages[base]; !ok {
		base = m.defaultLang
	}

	return translator{lang: base, primary: m.messages[base], fallback: m.messages[m.defaultLang]}
}

// Languages returns the loaded language codes in sorted order.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}

	langs := make([]string, 0, len(m.messages))
	for lang := range m.messages {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// Render translates key and replaces each {{.Name}} placeholder with the
// matching value from vars. With a nil translator key is the template.
func Render(t Translator, key string, vars Vars) string {
	text := key
	if t != nil {
		text = t.T(key)
	}
	if len(vars) == 0 {
		return text
	}

	pairs := make([]string, 0, 2*len(vars))
	for name, value := range vars {
		pairs = append(pairs, "{{."+name+"}}", fmt.Sprint(value))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

type translator struct {
	lang     string
	primary  map[string]string
	fallback map[string]string
}

func (t translator) Lang() string { return t.lang }

// T returns the message for key, the default language's message when
// this language lacks it, or key itself.
func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if text, ok := t.primary[key]; ok {
		return text
	}
	if text, ok := t.fallback[key]; ok {
		return text
	}
	return key
}

// parse decodes one catalog file.
func parse(data []byte) (messages, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := messages{}
	if len(doc.Content) == 0 {
		return out, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping of languages, got %s", root.Tag)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		lang := strings.ToLower(strings.TrimSpace(root.Content[i].Value))
		if lang == "" {
			continue
		}
		entries := make(map[string]string)
		flatten("", root.Content[i+1], entries)
		if len(entries) > 0 {
			out[lang] = entries
		}
	}
	return out, nil
}

// flatten walks a section and records every scalar under its dotted path.
func flatten(prefix string, node *yaml.Node, out map[string]string) {
	switch node.Kind {
	case yaml.ScalarNode:
		if prefix != "" {
			out[prefix] = node.Value
		}
	case yaml.AliasNode:
		flatten(prefix, node.Alias, out)
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if key == "" {
				continue
			}
			if prefix != "" {
				key = prefix + "." + key
			}
			flatten(key, node.Content[i+1], out)
		}
	}
}
