// Espresso CLI - runs a Java class's main method on the espresso VM
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chazu/espresso/cds"
	"github.com/chazu/espresso/classfile"
	"github.com/chazu/espresso/classpath"
	"github.com/chazu/espresso/manifest"
	"github.com/chazu/espresso/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("espresso.cli")

func main() {
	cp := flag.String("cp", "", "Class path (directories and jars, OS list separator)")
	configDir := flag.String("config", "", "Directory containing espresso.toml (default: search upward from cwd)")
	verbosity := flag.Int("v", -1, "Log verbosity (0 = errors only, 2 = debug)")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")
	useCDS := flag.Bool("cds", false, "Consult the class data sharing archive when loading classes")
	buildCDS := flag.Bool("cds-build", false, "Archive every class on the class path, then exit")
	javap := flag.Bool("javap", false, "Disassemble the named classes instead of running them")
	maxFrames := flag.Int("max-frames", 0, "Maximum call depth per thread")
	heapLimit := flag.Int("heap-limit", -1, "Maximum number of live heap objects (0 = unlimited)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: espresso [options] MainClass [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Loads MainClass from the class path and runs its main(String[]) method.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  espresso -cp classes Hello            # Run Hello.main\n")
		fmt.Fprintf(os.Stderr, "  espresso -cp app.jar com.example.App  # Run from a jar\n")
		fmt.Fprintf(os.Stderr, "  espresso -cp classes -javap Hello     # Print bytecode\n")
		fmt.Fprintf(os.Stderr, "  espresso -cp classes -cds-build       # Populate the CDS archive\n")
	}
	flag.Parse()

	m, err := loadManifest(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags override the manifest.
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	if *logFile != "" {
		m.Log.File = *logFile
	}
	commonlog.Configure(m.Log.Verbosity, m.LogFile())

	classPath := m.ClassPath()
	if *cp != "" {
		classPath = *cp
	}
	path := classpath.Parse(classPath)
	defer path.Close()

	if *maxFrames > 0 {
		m.VM.MaxFrames = *maxFrames
	}
	if *heapLimit >= 0 {
		m.VM.HeapLimit = *heapLimit
	}

	var archive *cds.Archive
	if *useCDS || *buildCDS || m.CDS.Enabled {
		archive, err = cds.Open(m.ArchivePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer archive.Close()
	}

	if *buildCDS {
		n, err := cds.Build(context.Background(), path, archive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Archived %d classes into %s\n", n, archive.Path())
		return
	}

	args := flag.Args()
	if *javap {
		if err := disassemble(path, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	mainClass := m.VM.Main
	if len(args) > 0 {
		mainClass, args = args[0], args[1:]
	}
	if mainClass == "" {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(path, archive, m, mainClass, args))
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

func run(path *classpath.Path, archive *cds.Archive, m *manifest.Manifest, mainClass string, args []string) int {
	machine, err := vm.New(vm.Options{
		ClassPath: path,
		Archive:   archive,
		MaxFrames: m.VM.MaxFrames,
		HeapLimit: m.VM.HeapLimit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer machine.Close()

	err = machine.Run(mainClass, args)
	if archive != nil {
		hits, misses := archive.Stats()
		log.Infof("cds: %d hits, %d misses", hits, misses)
	}
	var exit *vm.ExitError
	if err != nil && !errors.As(err, &exit) {
		log.Debugf("main thread ended with %v", err)
	}
	return vm.ExitStatus(err)
}

func disassemble(path *classpath.Path, names []string) error {
	if len(names) == 0 {
		return errors.New("-javap needs at least one class name")
	}
	for _, name := range names {
		data, err := path.Search(strings.ReplaceAll(name, ".", "/"))
		if err != nil {
			return err
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		out, err := vm.DisassembleClass(cf)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Print(out)
	}
	return nil
}
