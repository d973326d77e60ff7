package scangraph

import (
	"path"
	"strings"
)

// Category buckets a file in the graph's file index.
type Category string

const (
	CategorySource   Category = "source"
	CategoryTemplate Category = "template"
	CategoryConfig   Category = "config"
	CategoryDoc      Category = "doc"
	CategoryOther    Category = "other"
)

// Categories lists every category in index order.
var Categories = []Category{CategorySource, CategoryTemplate, CategoryConfig, CategoryDoc, CategoryOther}

var sourceLanguages = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".py":    "python",
	".rs":    "rust",
	".dart":  "dart",
	".java":  "java",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".swift": "swift",
	".scala": "scala",
	".proto": "protobuf",
}

var templateExts = map[string]bool{
	".tmpl": true, ".tpl": true, ".gotmpl": true, ".html": true, ".htm": true,
	".hbs": true, ".mustache": true, ".j2": true, ".jinja": true, ".jinja2": true,
	".erb": true, ".ejs": true,
}

var configExts = map[string]bool{
	".yaml": true, ".yml": true, ".json": true, ".toml": true, ".ini": true,
	".cfg": true, ".conf": true, ".env": true, ".properties": true, ".xml": true,
}

var configNames = map[string]bool{
	"dockerfile": true, "makefile": true, "go.mod": true, "go.sum": true,
	".env": true, ".editorconfig": true,
}

var docExts = map[string]bool{
	".md": true, ".markdown": true, ".rst": true, ".txt": true, ".adoc": true,
}

// Classify returns the category and, for source files, the language of a
// slash-separated relative path.
func Classify(rel string) (Category, string) {
	base := path.Base(rel)
	ext := strings.ToLower(path.Ext(base))

	if lang, ok := sourceLanguages[ext]; ok {
		return CategorySource, lang
	}
	switch {
	case templateExts[ext]:
		return CategoryTemplate, ""
	case configExts[ext], configNames[strings.ToLower(base)]:
		return CategoryConfig, ""
	case docExts[ext]:
		return CategoryDoc, ""
	}
	return CategoryOther, ""
}

// readsContent reports whether files of a category are opened for hints.
func readsContent(c Category) bool {
	return c == CategorySource || c == CategoryTemplate || c == CategoryConfig
}
