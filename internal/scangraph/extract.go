package scangraph

import (
	"encoding/json"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Hint kinds recorded in a graph's content hints.
const (
	HintRoutes    = "routes"
	HintMarkers   = "markers"
	HintTemplates = "templates"
	HintKeywords  = "keywords"
	HintLayout    = "layout"
)

// maxSignalsPerFile caps the signals one file may contribute per kind.
const maxSignalsPerFile = 64

// LayoutFile is the optional repository layout descriptor.
const LayoutFile = "LAYOUT.toml"

// FileHints holds the signals extracted from one file, keyed by hint kind.
type FileHints map[string][]string

func (h FileHints) add(kind, signal string) {
	if signal == "" || len(h[kind]) >= maxSignalsPerFile {
		return
	}
	h[kind] = append(h[kind], signal)
}

func (h FileHints) normalize() FileHints {
	for kind, signals := range h {
		h[kind] = dedupeSorted(signals)
	}
	return h
}

type routePattern struct {
	re *regexp.Regexp
	// method is the submatch index of the HTTP method, or 0 when the
	// pattern does not capture one
	method int
	path   int
}

var routePatterns = map[string][]routePattern{
	"go": {
		{re: regexp.MustCompile(`\.(GET|POST|PUT|DELETE|PATCH|Get|Post|Put|Delete|Patch)\(\s*"(/[^"]*)"`), method: 1, path: 2},
		{re: regexp.MustCompile(`\.(?:HandleFunc|Handle)\(\s*"(?:(GET|POST|PUT|DELETE|PATCH) )?(/[^"]*)"`), method: 1, path: 2},
	},
	"javascript": {
		{re: regexp.MustCompile(`\b(?:app|router|server)\.(get|post|put|delete|patch|all)\(\s*['"` + "`" + `](/[^'"` + "`" + `]*)`), method: 1, path: 2},
	},
	"typescript": {
		{re: regexp.MustCompile(`\b(?:app|router|server)\.(get|post|put|delete|patch|all)\(\s*['"` + "`" + `](/[^'"` + "`" + `]*)`), method: 1, path: 2},
		{re: regexp.MustCompile(`@(Get|Post|Put|Delete|Patch)\(\s*['"](/?[^'"]*)['"]`), method: 1, path: 2},
	},
	"python": {
		{re: regexp.MustCompile(`@\w+\.(get|post|put|delete|patch)\(\s*['"](/[^'"]*)`), method: 1, path: 2},
		{re: regexp.MustCompile(`@\w+\.route\(\s*['"](/[^'"]*)`), path: 1},
	},
	"java": {
		{re: regexp.MustCompile(`@(Get|Post|Put|Delete|Patch)Mapping\(\s*(?:(?:value|path)\s*=\s*)?"(/[^"]*)"`), method: 1, path: 2},
		{re: regexp.MustCompile(`@RequestMapping\(\s*(?:(?:value|path)\s*=\s*)?"(/[^"]*)"`), path: 1},
	},
	"kotlin": {
		{re: regexp.MustCompile(`@(Get|Post|Put|Delete|Patch)Mapping\(\s*(?:(?:value|path)\s*=\s*)?"(/[^"]*)"`), method: 1, path: 2},
	},
}

type markerPattern struct {
	re     *regexp.Regexp
	prefix string
}

var markerPatterns = map[string][]markerPattern{
	"go": {
		{regexp.MustCompile(`(?m)^package\s+(\w+)`), "package"},
		{regexp.MustCompile(`(?m)^type\s+([A-Z]\w*)\s+(?:struct|interface)\b`), "type"},
		{regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?([A-Z]\w*)\s*\(`), "func"},
	},
	"python": {
		{regexp.MustCompile(`(?m)^class\s+(\w+)`), "class"},
		{regexp.MustCompile(`(?m)^(?:async\s+)?def\s+([A-Za-z]\w*)`), "func"},
	},
	"javascript": {
		{regexp.MustCompile(`(?m)^export\s+(?:default\s+)?(?:async\s+)?function\s+(\w+)`), "func"},
		{regexp.MustCompile(`(?m)^export\s+(?:default\s+)?class\s+(\w+)`), "class"},
	},
	"typescript": {
		{regexp.MustCompile(`(?m)^export\s+(?:default\s+)?(?:async\s+)?function\s+(\w+)`), "func"},
		{regexp.MustCompile(`(?m)^export\s+(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`), "class"},
		{regexp.MustCompile(`(?m)^export\s+(?:interface|type)\s+(\w+)`), "type"},
	},
	"java": {
		{regexp.MustCompile(`(?m)^package\s+([\w.]+);`), "package"},
		{regexp.MustCompile(`(?m)^\s*public\s+(?:final\s+|abstract\s+)*(?:class|interface|enum|record)\s+(\w+)`), "class"},
	},
	"kotlin": {
		{regexp.MustCompile(`(?m)^package\s+([\w.]+)`), "package"},
		{regexp.MustCompile(`(?m)^(?:data\s+|open\s+)?class\s+(\w+)`), "class"},
	},
	"rust": {
		{regexp.MustCompile(`(?m)^pub\s+(?:struct|enum|trait)\s+(\w+)`), "type"},
		{regexp.MustCompile(`(?m)^pub\s+(?:async\s+)?fn\s+(\w+)`), "func"},
	},
}

var (
	protoServiceRe = regexp.MustCompile(`(?m)^service\s+(\w+)\s*\{`)
	protoRPCRe     = regexp.MustCompile(`\brpc\s+(\w+)\s*\(`)

	placeholderRe = regexp.MustCompile(`\{\{\s*-?\s*\.?([A-Za-z_][\w.]*)\s*-?\s*\}\}`)
	configKeyRe   = regexp.MustCompile(`\$\{([A-Za-z_][\w.]*)(?::[^}]*)?\}`)
)

var openapiFileNames = map[string]bool{
	"openapi.yaml": true, "openapi.yml": true, "openapi.json": true,
	"swagger.yaml": true, "swagger.yml": true, "swagger.json": true,
}

var httpMethods = []string{"get", "post", "put", "delete", "patch", "head", "options"}

// extractHints derives the signals of one file from its content. Parse
// failures of structured files only drop that file's structured signals.
func extractHints(rel string, category Category, language string, content []byte) FileHints {
	hints := FileHints{}
	text := string(content)
	base := path.Base(rel)

	switch category {
	case CategorySource:
		if language == "protobuf" {
			extractProto(hints, text)
			break
		}
		for _, p := range routePatterns[language] {
			for _, m := range p.re.FindAllStringSubmatch(text, -1) {
				method := "ANY"
				if p.method > 0 && m[p.method] != "" {
					method = strings.ToUpper(m[p.method])
				}
				route := m[p.path]
				if !strings.HasPrefix(route, "/") {
					route = "/" + route
				}
				hints.add(HintRoutes, method+" "+route)
			}
		}
		for _, p := range markerPatterns[language] {
			for _, m := range p.re.FindAllStringSubmatch(text, -1) {
				hints.add(HintMarkers, p.prefix+":"+m[1])
				if p.prefix == "package" || p.prefix == "class" || p.prefix == "type" {
					hints.add(HintKeywords, strings.ToLower(m[1]))
				}
			}
		}
	case CategoryTemplate:
		extractTemplate(hints, text)
	case CategoryConfig:
		extractTemplate(hints, text)
		lower := strings.ToLower(base)
		if openapiFileNames[lower] {
			extractOpenAPI(hints, lower, content)
		}
		if base == LayoutFile {
			extractLayout(hints, content)
		}
	}
	return hints.normalize()
}

func extractProto(hints FileHints, text string) {
	services := protoServiceRe.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range services {
		name := text[loc[2]:loc[3]]
		end := len(text)
		if i+1 < len(services) {
			end = services[i+1][0]
		}
		hints.add(HintMarkers, "service:"+name)
		hints.add(HintKeywords, strings.ToLower(name))
		for _, m := range protoRPCRe.FindAllStringSubmatch(text[loc[1]:end], -1) {
			hints.add(HintRoutes, "RPC "+name+"/"+m[1])
		}
	}
}

func extractTemplate(hints FileHints, text string) {
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		hints.add(HintTemplates, "placeholder:"+m[1])
	}
	for _, m := range configKeyRe.FindAllStringSubmatch(text, -1) {
		hints.add(HintTemplates, "key:"+m[1])
	}
}

func extractOpenAPI(hints FileHints, name string, content []byte) {
	var doc map[string]interface{}
	if strings.HasSuffix(name, ".json") {
		if err := json.Unmarshal(content, &doc); err != nil {
			return
		}
	} else if err := yaml.Unmarshal(content, &doc); err != nil {
		return
	}

	openapi, _ := doc["openapi"].(string)
	swagger, _ := doc["swagger"].(string)
	if !strings.HasPrefix(openapi, "3.") && swagger != "2.0" {
		return
	}
	if info, ok := doc["info"].(map[string]interface{}); ok {
		if title, ok := info["title"].(string); ok {
			hints.add(HintMarkers, "api:"+title)
			for _, word := range strings.Fields(strings.ToLower(title)) {
				hints.add(HintKeywords, word)
			}
		}
	}

	paths, ok := doc["paths"].(map[string]interface{})
	if !ok {
		return
	}
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	for _, p := range keys {
		ops, ok := paths[p].(map[string]interface{})
		if !ok {
			continue
		}
		for _, method := range httpMethods {
			if _, ok := ops[method]; ok {
				hints.add(HintRoutes, strings.ToUpper(method)+" "+p)
			}
		}
	}
}

// Layout describes declared roots in a LAYOUT.toml file.
type Layout struct {
	Version  int           `toml:"version"`
	Keywords []string      `toml:"keywords"`
	Roots    []LayoutEntry `toml:"root"`
}

// LayoutEntry is one declared root.
type LayoutEntry struct {
	Path     string `toml:"path"`
	Kind     string `toml:"kind"`
	Language string `toml:"language"`
}

// ParseLayout decodes a LAYOUT.toml document.
func ParseLayout(content []byte) (*Layout, error) {
	var layout Layout
	if err := toml.Unmarshal(content, &layout); err != nil {
		return nil, err
	}
	return &layout, nil
}

func extractLayout(hints FileHints, content []byte) {
	layout, err := ParseLayout(content)
	if err != nil {
		return
	}
	for _, kw := range layout.Keywords {
		hints.add(HintKeywords, strings.ToLower(strings.TrimSpace(kw)))
	}
	for _, root := range layout.Roots {
		p := normalizePath(root.Path)
		if p == "" {
			continue
		}
		signal := "root:" + p
		if root.Kind != "" {
			signal += ":" + root.Kind
		}
		hints.add(HintLayout, signal)
	}
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return in
	}
	sorted := append([]string(nil), in...)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
