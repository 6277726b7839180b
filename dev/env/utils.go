package devenv

import (
	"fmt"
	"os"
	"path/filepath"
	"rakuraku-calendar/lib/configutil"
	"regexp"
	"strings"
)

const moduleName = "rakuraku-calendar"

var modName = regexp.MustCompile(`(?m)^module *([\w\-_/.]+)$`)

func isWorkspaceRoot(currentdir string) bool {
	mod, err := os.ReadFile(filepath.Join(currentdir, "go.mod"))
	if err != nil {
		return false
	}
	matches := modName.FindSubmatch(mod)
	return len(matches) >= 2 && string(matches[1]) == moduleName
}

func GetWorkspaceRoot() (string, error) {
	currentdir, err := filepath.Abs(".")
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs("/")
	if err != nil {
		return "", err
	}

	for currentdir != root {
		isRoot := isWorkspaceRoot(currentdir)
		if !isRoot {
			currentdir = filepath.Join(currentdir, "..")
			continue
		}
		return currentdir, nil
	}

	return "", os.ErrNotExist
}

func GetStateFilePath(path string) (string, error) {
	root, err := GetWorkspaceRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "dev", ".state", path), nil
}

func GetStateFile(path string) ([]byte, error) {
	configPath, err := GetStateFilePath(path)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("no file at %s: %w", configPath, err)
	}
	return contents, err
}

func GetStateConfig[T any](path string) (T, error) {
	configPath, err := GetStateFilePath(path)
	if err != nil {
		var out T
		return out, err
	}
	return configutil.ReadConfig[T](configPath)
}

// ResolvePath expands a leading <dev_state> into the dev/.state directory of
// the workspace, other paths are returned unchanged.
func ResolvePath(path string) (string, error) {
	if !strings.HasPrefix(path, "<dev_state>") {
		return path, nil
	}

	root, err := GetWorkspaceRoot()
	if err != nil {
		return "", err
	}

	err = os.MkdirAll(filepath.Join(root, "dev", ".state"), 0700)
	if err != nil {
		return "", err
	}

	subpath := filepath.Join(strings.Split(filepath.ToSlash(path), "/")[1:]...)
	return filepath.Join(root, "dev", ".state", subpath), nil
}
