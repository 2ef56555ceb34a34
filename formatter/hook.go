package formatter

import (
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

// ContextHook adds the source file and line of the caller to every entry. Files of
// the agent's own packages are shown relative to the module root.
type ContextHook struct {
	modulePrefix string
}

// NewContextHook creates a hook for the packages of the given module
func NewContextHook(module string) *ContextHook {
	return &ContextHook{modulePrefix: strings.TrimSuffix(module, "/") + "/"}
}

// Levels set the supported levels for this hook
func (hook ContextHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire extend with the source information the entry.Data
func (hook ContextHook) Fire(entry *logrus.Entry) error {
	if entry.Caller == nil {
		return nil
	}
	src := hook.source(entry.Caller.Function, entry.Caller.File)
	entry.Data["source"] = fmt.Sprintf("%s:%d", src, entry.Caller.Line)
	return nil
}

// source joins the package of function with the base name of file. The package is
// taken from the function name, so the result does not depend on where the sources
// were checked out or whether the binary was built with -trimpath.
func (hook ContextHook) source(function, file string) string {
	pkg := packagePath(function)
	if rel, ok := strings.CutPrefix(pkg, hook.modulePrefix); ok {
		return rel + "/" + path.Base(file)
	}
	return path.Base(pkg) + "/" + path.Base(file)
}

// packagePath cuts the receiver and function name off a fully qualified function name
func packagePath(function string) string {
	slash := strings.LastIndex(function, "/")
	if dot := strings.Index(function[slash+1:], "."); dot >= 0 {
		return function[:slash+1+dot]
	}
	return function
}
