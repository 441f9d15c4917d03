// Package facts detects verifiable code-intelligence about an entity's
// repositories: languages, frameworks and build system inferred from
// marker files on disk. Detected facts raise the quality score; their
// absence is not an error, just a payload without a facts block.
package facts

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"contexthub/internal/entity"
	"contexthub/internal/payload"
)

// Provider resolves code facts for an entity from its workspace path
// and the repository names in its 6W block. A nil facts result with a
// nil error means no facts are available, which is a valid outcome.
type Provider interface {
	Facts(ctx context.Context, ref entity.Ref, path string, repositories []string) (*payload.Facts, error)
}

// marker ties a well-known file name to the language and optional
// framework or build system it implies.
type marker struct {
	file        string
	language    string
	framework   string
	buildSystem string
}

var markers = []marker{
	{file: "go.mod", language: "Go", buildSystem: "go"},
	{file: "package.json", language: "JavaScript", buildSystem: "npm"},
	{file: "tsconfig.json", language: "TypeScript"},
	{file: "Cargo.toml", language: "Rust", buildSystem: "cargo"},
	{file: "pom.xml", language: "Java", buildSystem: "maven"},
	{file: "build.gradle", language: "Java", buildSystem: "gradle"},
	{file: "pyproject.toml", language: "Python"},
	{file: "requirements.txt", language: "Python"},
	{file: "Gemfile", language: "Ruby", buildSystem: "bundler"},
	{file: "Makefile", language: "", buildSystem: "make"},
	{file: "Dockerfile", language: "", framework: "docker"},
}

// DirDetector scans local checkouts for marker files. The entity's
// workspace path is scanned first when set; repository names from the
// entity's 6W block resolve to directories under Root. Candidates with
// no matching directory are skipped.
type DirDetector struct {
	root string
	log  *zap.Logger
}

// NewDirDetector creates a detector rooted at the given directory. A nil
// logger is replaced with a nop logger.
func NewDirDetector(root string, log *zap.Logger) *DirDetector {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirDetector{root: root, log: log}
}

// Facts inspects the entity's workspace path, when set, and every named
// repository directory under the root. An absolute path is used as-is, a
// relative one resolves under the root. Facts found on disk are marked
// verified; no candidate directories or no markers yields nil facts
// without an error.
func (d *DirDetector) Facts(ctx context.Context, ref entity.Ref, path string, repositories []string) (*payload.Facts, error) {
	var dirs []string
	if path != "" {
		if filepath.IsAbs(path) {
			dirs = append(dirs, path)
		} else if d.root != "" {
			dirs = append(dirs, filepath.Join(d.root, path))
		}
	}
	if d.root != "" {
		for _, repo := range repositories {
			dirs = append(dirs, filepath.Join(d.root, filepath.Base(repo)))
		}
	}
	if len(dirs) == 0 {
		return nil, nil
	}

	languages := map[string]bool{}
	frameworks := map[string]bool{}
	buildSystem := ""
	found := false

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(dir, m.file)); err != nil {
				continue
			}
			found = true
			if m.language != "" {
				languages[m.language] = true
			}
			if m.framework != "" {
				frameworks[m.framework] = true
			}
			if buildSystem == "" && m.buildSystem != "" {
				buildSystem = m.buildSystem
			}
		}
	}

	if !found {
		return nil, nil
	}

	f := &payload.Facts{
		Languages:   sortedKeys(languages),
		Frameworks:  sortedKeys(frameworks),
		BuildSystem: buildSystem,
		Verified:    true,
	}
	d.log.Debug("detected code facts",
		zap.String("entity", ref.String()),
		zap.Strings("languages", f.Languages),
		zap.String("build_system", f.BuildSystem))
	return f, nil
}

// StaticProvider returns the same facts for every entity. Used in tests
// and in deployments that feed facts from an external pipeline.
type StaticProvider struct {
	Result *payload.Facts
}

func (p StaticProvider) Facts(ctx context.Context, ref entity.Ref, path string, repositories []string) (*payload.Facts, error) {
	if p.Result == nil {
		return nil, nil
	}
	out := *p.Result
	return &out, nil
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var (
	_ Provider = (*DirDetector)(nil)
	_ Provider = StaticProvider{}
)
