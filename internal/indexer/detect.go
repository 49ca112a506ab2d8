package indexer

import (
	"encoding/json"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/src-d/enry/v2"
)

// detection is the intermediate result of the deterministic path rules.
type detection struct {
	Languages        []string
	Entrypoints      []string
	BuildCommands    BuildCommands
	APISurface       APISurface
	MigrationsSchema []string
	CrossRepoDeps    []CrossRepoDependency
	Hotspots         []string
}

// packageManifest is the subset of package.json the rules consume.
type packageManifest struct {
	Main            string            `json:"main"`
	Bin             json.RawMessage   `json:"bin"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`

	// raw is the manifest text, kept for URL extraction evidence.
	raw string
}

// buildFileURLPattern extracts URLs from Maven and Gradle build files.
var buildFileURLPattern = regexp.MustCompile(`https?://[A-Za-z0-9._~:/?#@!$&'*+,;=%()-]+`)

// mainGoPattern matches main.go at the root or directly under cmd/<name>/.
var mainGoPattern = regexp.MustCompile(`^(main\.go|cmd/[^/]+/main\.go)$`)

func readPackageManifest(files map[string]*object.File) *packageManifest {
	file, ok := files["package.json"]
	if !ok {
		return nil
	}

	content, err := file.Contents()
	if err != nil {
		return nil
	}

	var manifest packageManifest

	decodeErr := json.Unmarshal([]byte(content), &manifest)
	if decodeErr != nil {
		return nil
	}

	manifest.raw = content

	return &manifest
}

// detect applies the deterministic path and manifest rules. buildFiles maps
// Maven/Gradle build file paths to their contents for URL extraction. All
// output collections are sorted; the function is pure over its inputs.
func detect(
	paths []string,
	manifest *packageManifest,
	buildFiles map[string]string,
	repoID string,
	knownRepoIDs []string,
) detection {
	d := detection{
		Languages:        detectLanguages(paths),
		Entrypoints:      detectEntrypoints(paths, manifest),
		BuildCommands:    detectBuildCommands(paths, manifest),
		MigrationsSchema: detectMigrationsSchema(paths),
	}

	d.APISurface = APISurface{
		OpenAPI:     filterPaths(paths, isOpenAPIFile),
		Routes:      filterPaths(paths, isRouteFile),
		EventTopics: filterPaths(paths, isEventTopicFile),
	}

	d.CrossRepoDeps = detectCrossRepoDeps(manifest, buildFiles, repoID, knownRepoIDs)

	d.Hotspots = sortedUnique(append(append([]string{}, d.Entrypoints...), d.APISurface.Routes...))

	return d
}

func detectLanguages(paths []string) []string {
	seen := map[string]bool{}

	for _, p := range paths {
		if enry.IsVendor(p) {
			continue
		}

		base := path.Base(p)

		lang, ok := enry.GetLanguageByFilename(base)
		if !ok {
			lang, ok = enry.GetLanguageByExtension(base)
		}

		if ok && lang != "" {
			seen[lang] = true
		}
	}

	return sortedKeys(seen)
}

func detectEntrypoints(paths []string, manifest *packageManifest) []string {
	exists := map[string]bool{}

	for _, p := range paths {
		exists[p] = true
	}

	seen := map[string]bool{}

	for _, p := range paths {
		if mainGoPattern.MatchString(p) {
			seen[p] = true
		}
	}

	for _, candidate := range []string{
		"index.js", "index.ts",
		"src/index.js", "src/index.ts",
		"src/main.js", "src/main.ts",
		"src/server.js", "src/server.ts",
		"app.py", "main.py", "manage.py",
	} {
		if exists[candidate] {
			seen[candidate] = true
		}
	}

	if manifest != nil {
		if manifest.Main != "" && exists[cleanManifestPath(manifest.Main)] {
			seen[cleanManifestPath(manifest.Main)] = true
		}

		for _, bin := range manifestBinTargets(manifest.Bin) {
			if exists[cleanManifestPath(bin)] {
				seen[cleanManifestPath(bin)] = true
			}
		}
	}

	return sortedKeys(seen)
}

// manifestBinTargets handles both bin shapes: a single string or a
// name-to-path object.
func manifestBinTargets(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var single string

	if json.Unmarshal(raw, &single) == nil {
		return []string{single}
	}

	var many map[string]string

	if json.Unmarshal(raw, &many) == nil {
		var targets []string

		for _, target := range many {
			targets = append(targets, target)
		}

		sort.Strings(targets)

		return targets
	}

	return nil
}

func cleanManifestPath(p string) string {
	return strings.TrimPrefix(path.Clean(p), "./")
}

func detectBuildCommands(paths []string, manifest *packageManifest) BuildCommands {
	exists := map[string]bool{}

	for _, p := range paths {
		exists[p] = true
	}

	cmds := BuildCommands{Evidence: []string{}}

	setIfEmpty := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}

	if manifest != nil {
		cmds.Evidence = append(cmds.Evidence, "package.json")

		setIfEmpty(&cmds.Install, "npm install")

		if _, ok := manifest.Scripts["lint"]; ok {
			setIfEmpty(&cmds.Lint, "npm run lint")
		}

		if _, ok := manifest.Scripts["test"]; ok {
			setIfEmpty(&cmds.Test, "npm test")
		}

		if _, ok := manifest.Scripts["build"]; ok {
			setIfEmpty(&cmds.Build, "npm run build")
		}
	}

	if exists["go.mod"] {
		cmds.Evidence = append(cmds.Evidence, "go.mod")

		setIfEmpty(&cmds.Install, "go mod download")
		setIfEmpty(&cmds.Lint, "go vet ./...")
		setIfEmpty(&cmds.Test, "go test ./...")
		setIfEmpty(&cmds.Build, "go build ./...")
	}

	if exists["pom.xml"] {
		cmds.Evidence = append(cmds.Evidence, "pom.xml")

		setIfEmpty(&cmds.Install, "mvn install")
		setIfEmpty(&cmds.Test, "mvn test")
		setIfEmpty(&cmds.Build, "mvn package")
	}

	for _, gradleFile := range []string{"build.gradle", "build.gradle.kts"} {
		if exists[gradleFile] {
			cmds.Evidence = append(cmds.Evidence, gradleFile)

			setIfEmpty(&cmds.Test, "gradle test")
			setIfEmpty(&cmds.Build, "gradle build")
		}
	}

	if exists["Makefile"] {
		cmds.Evidence = append(cmds.Evidence, "Makefile")

		setIfEmpty(&cmds.Build, "make")
	}

	cmds.Evidence = sortedUnique(cmds.Evidence)

	return cmds
}

func isOpenAPIFile(p string) bool {
	base := strings.ToLower(path.Base(p))
	ext := path.Ext(base)

	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return false
	}

	return strings.HasPrefix(base, "openapi") ||
		strings.HasPrefix(base, "swagger") ||
		strings.HasPrefix(base, "asyncapi")
}

func isRouteFile(p string) bool {
	lower := strings.ToLower(p)

	if hasSegment(lower, "routes") || hasSegment(lower, "controllers") {
		return true
	}

	base := path.Base(lower)

	return strings.Contains(base, ".routes.") || strings.Contains(base, "controller")
}

func isEventTopicFile(p string) bool {
	base := strings.ToLower(path.Base(p))
	ext := path.Ext(base)

	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return false
	}

	return strings.Contains(base, "topic") || hasSegment(strings.ToLower(p), "topics")
}

func isMigrationFile(p string) bool {
	lower := strings.ToLower(p)

	return hasSegment(lower, "migrations") || hasSegment(lower, "migration")
}

func isSchemaFile(p string) bool {
	base := strings.ToLower(path.Base(p))

	switch base {
	case "schema.sql", "schema.prisma", "schema.graphql":
		return true
	}

	return path.Ext(base) == ".ddl"
}

func detectMigrationsSchema(paths []string) []string {
	return filterPaths(paths, func(p string) bool {
		return isMigrationFile(p) || isSchemaFile(p)
	})
}

func detectCrossRepoDeps(
	manifest *packageManifest,
	buildFiles map[string]string,
	repoID string,
	knownRepoIDs []string,
) []CrossRepoDependency {
	known := map[string]bool{}

	for _, id := range knownRepoIDs {
		if id != repoID {
			known[id] = true
		}
	}

	byKey := map[string]*CrossRepoDependency{}

	record := func(target, depType, evidence string) {
		key := depType + "::" + target

		dep, ok := byKey[key]
		if !ok {
			dep = &CrossRepoDependency{Target: target, Type: depType}
			byKey[key] = dep
		}

		dep.Evidence = append(dep.Evidence, evidence)
	}

	if manifest != nil {
		for name := range manifest.Dependencies {
			if known[normalizeDepName(name)] {
				record(normalizeDepName(name), "package", "package.json")
			}
		}

		for name := range manifest.DevDependencies {
			if known[normalizeDepName(name)] {
				record(normalizeDepName(name), "package", "package.json")
			}
		}
	}

	// Build file URLs name external coordinates (registries, sibling repo
	// remotes) that count as cross-repo edges.
	buildPaths := make([]string, 0, len(buildFiles))

	for p := range buildFiles {
		buildPaths = append(buildPaths, p)
	}

	sort.Strings(buildPaths)

	for _, p := range buildPaths {
		for _, url := range buildFileURLPattern.FindAllString(buildFiles[p], -1) {
			record(url, "build_url", p)
		}
	}

	deps := []CrossRepoDependency{}

	for _, dep := range byKey {
		dep.Evidence = sortedUnique(dep.Evidence)
		deps = append(deps, *dep)
	}

	sort.Slice(deps, func(i, j int) bool {
		a := deps[i].Type + "::" + deps[i].Target
		b := deps[j].Type + "::" + deps[j].Target

		return a < b
	})

	return deps
}

// normalizeDepName maps a package name onto the registry id shape:
// scope stripped, lowercased, separators collapsed to dashes.
func normalizeDepName(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")

	return name
}

func hasSegment(p, segment string) bool {
	for _, part := range strings.Split(p, "/") {
		if part == segment {
			return true
		}
	}

	return false
}

func filterPaths(paths []string, keep func(string) bool) []string {
	out := []string{}

	for _, p := range paths {
		if keep(p) {
			out = append(out, p)
		}
	}

	sort.Strings(out)

	return out
}

func sortedUnique(values []string) []string {
	seen := map[string]bool{}

	for _, v := range values {
		seen[v] = true
	}

	return sortedKeys(seen)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))

	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
