package core

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestEnginePackagesStayHostAgnostic keeps the change engine independent of
// storage drivers, configuration and the journal. Only core composes them.
func TestEnginePackagesStayHostAgnostic(t *testing.T) {
	engine := []string{
		"commitwatch/pkg/domain",
		"commitwatch/internal/registry",
		"commitwatch/internal/tracking",
		"commitwatch/internal/txstate",
		"commitwatch/internal/dispatch",
	}
	forbidden := []string{
		"commitwatch/internal/infra",
		"commitwatch/internal/core",
		"commitwatch/internal/config",
		"commitwatch/internal/blob",
		"commitwatch/internal/journal",
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, engine...)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var violations []string
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			for _, prefix := range forbidden {
				if importPath == prefix || strings.HasPrefix(importPath, prefix+"/") {
					violations = append(violations, pkg.PkgPath+" -> "+importPath)
				}
			}
		}
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden import: %s", v)
	}
}
