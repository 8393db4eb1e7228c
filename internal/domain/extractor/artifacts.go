package extractor

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
)

const pathPattern = `([\w@.\-/\[\]]+\.[A-Za-z0-9]{1,10})`

var (
	// "// src/App.jsx", "<!-- index.html -->", "# file: app.py", "-- db/seed.sql"
	pathComment = regexp.MustCompile(`^\s*(?://|#|<!--|/\*|--)\s*(?:(?i:file|archivo|path|ruta)\s*:\s*)?` + "`?" + pathPattern + "`?" + `\s*(?:-->|\*/)?\s*$`)

	// "### src/App.jsx", "**`server.js`**", "1. **Archivo: index.html**:"
	fileHeader = regexp.MustCompile(`^(?:\d+\.\s*)?(?:#{1,6}\s+|[*_]{2})\s*(?:(?i:file|archivo|path|ruta)\s*:\s*)?` + "`?" + pathPattern + "`?" + `\s*(?:[*_]{2})?\s*:?\s*$`)

	infoPath = regexp.MustCompile(`^(?:(?i:file|archivo|path|ruta|title)\s*[:=]\s*)?["']?` + pathPattern + `["']?$`)

	createTable     = regexp.MustCompile(`(?i)\bcreate\s+table\b`)
	defaultExport   = regexp.MustCompile(`export\s+default\s+(?:async\s+)?function\s+([A-Z]\w*)`)
	defaultIdent    = regexp.MustCompile(`(?m)^export\s+default\s+([A-Z]\w*)\s*;?\s*$`)
	routerCall      = regexp.MustCompile(`express\.Router\(\)|\brouter\.(?:get|post|put|patch|delete|use)\(`)
	serverListen    = regexp.MustCompile(`\bapp\.listen\(`)
	htmlDocument    = regexp.MustCompile(`(?i)<!doctype\s+html|<html[\s>]`)
	packageManifest = regexp.MustCompile(`"(?:dependencies|scripts)"\s*:\s*\{`)
)

var extensionLanguage = map[string]string{
	".html":    "html",
	".htm":     "html",
	".css":     "css",
	".js":      "javascript",
	".mjs":     "javascript",
	".cjs":     "javascript",
	".jsx":     "jsx",
	".ts":      "typescript",
	".tsx":     "tsx",
	".json":    "json",
	".py":      "python",
	".go":      "go",
	".sql":     "sql",
	".prisma":  "prisma",
	".graphql": "graphql",
	".gql":     "graphql",
	".md":      "markdown",
	".yaml":    "yaml",
	".yml":     "yaml",
	".sh":      "bash",
	".env":     "dotenv",
	".vue":     "vue",
	".svelte":  "svelte",
}

// family is one layer of path detection. It returns the artifact path and the
// content to keep, or ok=false.
type family func(f fence) (relPath, content string, ok bool)

// families run in order; a fence claimed by an earlier family is not offered
// to later ones, and a path produced earlier is not produced again.
var families = []family{
	annotatedInside,
	headerBefore,
	schemaFence,
	commentBefore,
	inferredFromShape,
}

// CodeArtifacts pulls labelled source files out of free-form model output.
// The rules are best-effort: a fence nobody can place is dropped.
func CodeArtifacts(fullText string) []entities.CodeArtifact {
	blocks := fences(fullText)
	claimed := make([]bool, len(blocks))
	seen := make(map[string]bool)

	type found struct {
		index    int
		artifact entities.CodeArtifact
	}
	var out []found

	for _, fam := range families {
		for i, f := range blocks {
			if claimed[i] || isDeliverableFence(f) || strings.TrimSpace(f.Body) == "" {
				continue
			}
			p, content, ok := fam(f)
			if !ok {
				continue
			}
			p, ok = cleanPath(p)
			if !ok || seen[p] {
				continue
			}
			claimed[i] = true
			seen[p] = true
			out = append(out, found{index: i, artifact: entities.CodeArtifact{
				RelativePath: p,
				Content:      content,
				LanguageTag:  languageTag(f.Lang, p),
			}})
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].index < out[b].index })
	artifacts := make([]entities.CodeArtifact, 0, len(out))
	for _, o := range out {
		artifacts = append(artifacts, o.artifact)
	}
	return artifacts
}

func isDeliverableFence(f fence) bool {
	return strings.Contains(f.Body, `"deliverable_`)
}

// annotatedInside handles a path on the fence's info line or as a comment on
// the first line of the body. The comment line itself is dropped.
func annotatedInside(f fence) (string, string, bool) {
	if f.Info != "" {
		if m := infoPath.FindStringSubmatch(f.Info); m != nil {
			return m[1], f.Body, true
		}
	}
	first, rest := firstLine(f.Body)
	if m := pathComment.FindStringSubmatch(first); m != nil {
		return m[1], strings.TrimLeft(rest, "\n"), true
	}
	return "", "", false
}

func headerBefore(f fence) (string, string, bool) {
	if m := fileHeader.FindStringSubmatch(f.Preceding); m != nil {
		return m[1], f.Body, true
	}
	return "", "", false
}

func schemaFence(f fence) (string, string, bool) {
	switch f.Lang {
	case "prisma":
		return "prisma/schema.prisma", f.Body, true
	case "graphql", "gql":
		return "schema.graphql", f.Body, true
	case "sql", "postgresql", "mysql", "sqlite":
		if createTable.MatchString(f.Body) {
			return "db/schema.sql", f.Body, true
		}
	}
	return "", "", false
}

func commentBefore(f fence) (string, string, bool) {
	if m := pathComment.FindStringSubmatch(f.Preceding); m != nil {
		return m[1], f.Body, true
	}
	return "", "", false
}

// inferredFromShape maps recognizable code shapes to conventional paths.
func inferredFromShape(f fence) (string, string, bool) {
	body := f.Body
	switch {
	case f.Lang == "html" || htmlDocument.MatchString(body):
		return "index.html", body, true
	case f.Lang == "css" || f.Lang == "scss":
		return "styles." + f.Lang, body, true
	}

	if name := componentName(body); name != "" {
		ext := ".jsx"
		if f.Lang == "tsx" || f.Lang == "typescript" || f.Lang == "ts" {
			ext = ".tsx"
		}
		dir := "src/components/"
		if strings.HasSuffix(name, "Page") || name == "App" {
			dir = "src/pages/"
			if name == "App" {
				dir = "src/"
			}
		}
		return dir + name + ext, body, true
	}

	switch {
	case routerCall.MatchString(body) && !serverListen.MatchString(body):
		return "src/routes/index.js", body, true
	case serverListen.MatchString(body):
		return "server.js", body, true
	case f.Lang == "json" && packageManifest.MatchString(body):
		return "package.json", body, true
	}
	return "", "", false
}

func componentName(body string) string {
	if m := defaultExport.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	if m := defaultIdent.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

// cleanPath normalizes a relative path and rejects anything that would
// escape the artifact root.
func cleanPath(p string) (string, bool) {
	p = strings.TrimSpace(strings.Trim(p, "`'\""))
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}
	p = path.Clean(strings.TrimPrefix(p, "./"))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

func languageTag(lang, relPath string) string {
	if lang != "" {
		return lang
	}
	if tag, ok := extensionLanguage[strings.ToLower(path.Ext(relPath))]; ok {
		return tag
	}
	return "text"
}
