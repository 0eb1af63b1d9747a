package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/bsqlang/bsq/pkg/compiler"
	"github.com/bsqlang/bsq/pkg/runtime"
)

var errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

func main() {
	runtimePath := flag.String("runtime", "", "path to a runtime library IR file overriding the built-in one")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: bsq [-runtime bsq_lib.ll] [source.bas]")
		flag.PrintDefaults()
	}
	flag.Parse()

	libraryIR := runtime.Library()
	if *runtimePath != "" {
		data, err := os.ReadFile(*runtimePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
			os.Exit(1)
		}
		libraryIR = string(data)
	}

	if flag.NArg() > 0 {
		fmt.Println(compile(flag.Arg(0), libraryIR))
		return
	}

	// With no argument, compile everything under testdata.
	sources, err := filepath.Glob(filepath.Join("testdata", "*.bas"))
	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
		os.Exit(1)
	}
	sort.Strings(sources)
	for _, source := range sources {
		fmt.Println(source)
		fmt.Println(compile(source, libraryIR))
	}
}

func compile(path, libraryIR string) bool {
	if err := compiler.CompileWithRuntime(path, libraryIR); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
		return false
	}
	return true
}
