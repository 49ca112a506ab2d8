package indexer

import (
	"path"
	"strings"
)

// manifestNames are the build manifests always fingerprinted when present.
var manifestNames = map[string]bool{
	"package.json":      true,
	"package-lock.json": false, // Lockfiles churn too much to gate committees.
	"go.mod":            true,
	"pom.xml":           true,
	"build.gradle":      true,
	"build.gradle.kts":  true,
	"requirements.txt":  true,
	"pyproject.toml":    true,
	"makefile":          true,
	"dockerfile":        true,
}

// selectFingerprints picks the curated file set whose content changes should
// invalidate committee conclusions, mapped to categories. When a file fits
// several categories the most specific wins: migration over schema over
// api_contract over source over manifest.
func selectFingerprints(d detection, paths []string) map[string]string {
	selected := map[string]string{}

	for _, p := range paths {
		if manifestNames[lowerBase(p)] && !hasSlash(p) {
			selected[p] = CategoryManifest
		}
	}

	for _, p := range d.Entrypoints {
		selected[p] = CategorySource
	}

	for _, p := range d.APISurface.Routes {
		selected[p] = CategorySource
	}

	for _, p := range d.APISurface.OpenAPI {
		selected[p] = CategoryAPIContract
	}

	for _, p := range d.APISurface.EventTopics {
		selected[p] = CategoryAPIContract
	}

	for _, p := range paths {
		if isSchemaFile(p) {
			selected[p] = CategorySchema
		}
	}

	for _, p := range paths {
		if isMigrationFile(p) {
			selected[p] = CategoryMigration
		}
	}

	return selected
}

func lowerBase(p string) string {
	return strings.ToLower(path.Base(p))
}

func hasSlash(p string) bool {
	return strings.Contains(p, "/")
}
