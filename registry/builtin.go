package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"

	"github.com/kxue43/webapp-setup/overlay"
)

// BuiltinFunc generates a project skeleton without spawning a command.
type BuiltinFunc func(ctx context.Context, pt *ProjectType, vars Vars) error

const (
	defaultGoVersion = "1.24"

	goMainTemplate = `package main

import (
	"fmt"
	"log"
	"net/http"
)

func main() {
	http.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "Hello from {%.Name%}")
	})

	fmt.Println("Running on http://localhost:8080")

	log.Fatal(http.ListenAndServe("localhost:8080", nil))
}
`
)

var builtins = map[string]BuiltinFunc{
	"go-module": goModule,
}

// Builtin returns the in-process template generator registered under name.
func Builtin(name string) (BuiltinFunc, bool) {
	fn, ok := builtins[name]

	return fn, ok
}

func goModule(ctx context.Context, pt *ProjectType, vars Vars) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := module.CheckImportPath(vars.Name); err != nil {
		return fmt.Errorf("project name %q is not a valid module path: %w", vars.Name, err)
	}

	goVersion := pt.GoVersion
	if goVersion == "" {
		goVersion = defaultGoVersion
	}

	if err := os.MkdirAll(filepath.Clean(vars.Dir), 0750); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	err := overlay.WriteToFile(vars.Dir, "go.mod", ToModFile(vars.Name, goVersion))
	if err != nil {
		return err
	}

	if _, err = os.Stat(filepath.Join(vars.Dir, "main.go")); err == nil {
		return nil
	}

	return overlay.WriteToFile(vars.Dir, "main.go", func(fd io.Writer) error {
		t, err1 := template.New("main.go").Delims("{%", "%}").Parse(goMainTemplate)
		if err1 != nil {
			return fmt.Errorf("failed to load template for main.go: %w", err1)
		}

		return t.Execute(fd, vars)
	})
}

func ToModFile(modulePath, goVersion string) overlay.WriteHook {
	return func(fd io.Writer) error {
		goModFile := new(modfile.File)

		err := goModFile.AddModuleStmt(modulePath)
		if err != nil {
			return fmt.Errorf("failed to add module statement to go.mod file: %w", err)
		}

		err = goModFile.AddGoStmt(goVersion)
		if err != nil {
			return fmt.Errorf("failed to add go statement to go.mod file: %w", err)
		}

		contents, err := goModFile.Format()
		if err != nil {
			return fmt.Errorf("failed to format starter go.mod file: %w", err)
		}

		_, err = fd.Write(contents)

		return err
	}
}
