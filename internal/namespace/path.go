package namespace

import "strings"

// split breaks an absolute path into its component names. "/" splits to an
// empty slice (the root itself).
func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// parentAndName splits a path into its parent path and final component,
// matching the parent-path resolution policy in spec.md §4.1: for
// create("/a/b/c") the parent is "/a/b".
func parentAndName(path string) (parent, name string) {
	parts := split(path)
	if len(parts) == 0 {
		return "", ""
	}
	name = parts[len(parts)-1]
	if len(parts) == 1 {
		return "/", name
	}
	return "/" + strings.Join(parts[:len(parts)-1], "/"), name
}

// looksLikeFile implements the source idiosyncrasy preserved verbatim from
// the original implementation: a last path component is treated as a file
// if it contains a '.' after its first rune, and as a directory otherwise.
// This is fragile (a directory named "v1.2" is misclassified) but is kept
// for compatibility, per the design notes.
func looksLikeFile(name string) bool {
	if len(name) < 2 {
		return false
	}
	return strings.Contains(name[1:], ".")
}

// BuildChildPath constructs a child path from a parent path and name,
// ported from the teacher's tree.BuildChildPath.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}
