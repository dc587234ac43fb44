// Package security implements spec §4.1 (PathValidator) and §4.2
// (Base64+MIME validator, ContentSecurityValidator): the primitives the
// content layer and the tool-call engine build on. Grounded on the
// teacher's path-handling conventions in internal/agentctl/server/process
// (absolute-path-only tool inputs) generalized into a standalone,
// independently testable validator, since the teacher never factored
// this logic out as its own unit.
package security

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kandev/acpbridge/internal/core"
)

const defaultMaxPathLength = 4096

var systemDenyList = []string{"/etc", "/usr", "/bin", "/sys", "/proc", "/dev"}

var dangerousExtensions = map[string]bool{
	"exe": true, "bat": true, "cmd": true, "scr": true, "com": true, "pif": true,
}

// PathValidator validates absolute paths per spec §4.1.
type PathValidator struct {
	maxLength     int
	boundaryRoots []string
	forbidden     []string
}

// NewPathValidator builds a validator honoring the given boundary roots
// (empty means "no boundary restriction beyond system/extension deny-lists").
func NewPathValidator(boundaryRoots []string) *PathValidator {
	return &PathValidator{maxLength: defaultMaxPathLength, boundaryRoots: boundaryRoots}
}

// WithForbiddenPaths adds operator-configured forbidden path prefixes
// on top of the built-in system deny-list.
func (v *PathValidator) WithForbiddenPaths(paths []string) *PathValidator {
	v.forbidden = append(v.forbidden, paths...)
	return v
}

// ValidateAbsolutePath implements spec §4.1's algorithm end to end.
func (v *PathValidator) ValidateAbsolutePath(input string) (string, error) {
	if input == "" {
		return "", pathErr("path must not be empty").WithSuggestion("provide a non-empty absolute path")
	}
	if strings.ContainsRune(input, '\x00') {
		return "", pathErr("path contains a NUL byte")
	}
	if len(input) > v.maxLength {
		return "", pathErr("path exceeds maximum length of %d", v.maxLength).
			WithData("maxLength", v.maxLength)
	}
	if !isPlatformAbsolute(input) {
		return "", pathErr("path %q must be absolute path", input).
			WithSuggestion(absoluteExampleSuggestion())
	}
	for _, part := range splitComponents(input) {
		switch part {
		case "..":
			return "", pathErr("path %q contains a traversal (..) component", input).
				WithSuggestion("remove any '..' segments and supply a fully-resolved absolute path")
		case ".":
			return "", pathErr("path %q contains a relative (.) component", input)
		}
	}

	canonical, err := filepath.Abs(filepath.Clean(input))
	if err != nil {
		return "", pathErr("failed to canonicalize path %q: %v", input, err)
	}

	if len(v.boundaryRoots) > 0 && !withinAnyRoot(canonical, v.boundaryRoots) {
		return "", pathErr("path %q is outside the configured boundary roots", input).
			WithData("boundaryRoots", v.boundaryRoots)
	}

	for _, deny := range systemDenyList {
		if canonical == deny || strings.HasPrefix(canonical, deny+string(filepath.Separator)) {
			return "", pathErr("path %q falls under a protected system directory %q", input, deny)
		}
	}

	for _, deny := range v.forbidden {
		denyClean := filepath.Clean(deny)
		if canonical == denyClean || strings.HasPrefix(canonical, denyClean+string(filepath.Separator)) {
			return "", pathErr("path %q falls under a forbidden path %q", input, deny)
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(canonical)), ".")
	if dangerousExtensions[ext] {
		return "", pathErr("path %q has a disallowed extension %q", input, ext)
	}

	return canonical, nil
}

func splitComponents(p string) []string {
	normalized := strings.ReplaceAll(p, "\\", "/")
	return strings.Split(normalized, "/")
}

func isPlatformAbsolute(p string) bool {
	if runtime.GOOS == "windows" {
		if len(p) >= 2 && p[1] == ':' {
			return true
		}
		return strings.HasPrefix(p, `\\`)
	}
	return strings.HasPrefix(p, "/")
}

func withinAnyRoot(canonical string, roots []string) bool {
	for _, root := range roots {
		rootClean := filepath.Clean(root)
		if canonical == rootClean || strings.HasPrefix(canonical, rootClean+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func absoluteExampleSuggestion() string {
	return "use an absolute path, e.g. /home/user/project/file.txt on Unix or C:\\Users\\user\\project\\file.txt on Windows"
}

func pathErr(format string, args ...any) *core.Error {
	return core.ValidationErrorf(format, args...)
}
