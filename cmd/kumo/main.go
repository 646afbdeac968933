// Kumo CLI - runs compiled Kumo bytecode modules
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/kumovm/kumo/manifest"
	"github.com/kumovm/kumo/modfile"
	"github.com/kumovm/kumo/store"
	"github.com/kumovm/kumo/vm"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	trace := flag.Bool("trace", false, "Log each executed instruction")
	disasm := flag.Bool("disasm", false, "Disassemble the module instead of running it")
	steps := flag.Int("steps", 0, "Step budget, 0 means unlimited")
	storePath := flag.String("store", "", "Module store database (SQLite)")
	save := flag.Bool("save", false, "Cache the module and record the run in the store")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kumo [options] [module]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a compiled Kumo bytecode module (binary, CBOR, or compiler JSON).\n")
		fmt.Fprintf(os.Stderr, "Without a module argument the kumo.toml manifest's run.module is used.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  kumo program.kumo              # Run a module\n")
		fmt.Fprintf(os.Stderr, "  kumo -disasm program.kumo      # Print its disassembly\n")
		fmt.Fprintf(os.Stderr, "  kumo -trace bytecode.json      # Run compiler output with tracing\n")
		fmt.Fprintf(os.Stderr, "  kumo -store kumo.db -save program.kumo  # Run and record in the store\n")
	}
	flag.Parse()

	// Manifest discovery: kumo.toml supplies defaults the flags override.
	wd, err := os.Getwd()
	if err != nil {
		fatal("resolving working directory: %v", err)
	}
	man, err := manifest.FindAndLoad(wd)
	if err != nil {
		fatal("loading manifest: %v", err)
	}

	modulePath := ""
	if flag.NArg() > 0 {
		modulePath = flag.Arg(0)
	} else if man != nil {
		modulePath = man.ModulePath()
	}
	if modulePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if man != nil {
		if !*trace {
			*trace = man.Run.Trace
		}
		if *steps == 0 {
			*steps = man.Run.StepLimit
		}
		if *storePath == "" {
			*storePath = man.StorePath()
		}
	}

	verbosity := 0
	if *verbose {
		verbosity = 1
	}
	if *trace {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	module, err := modfile.Load(modulePath)
	if err != nil {
		fatal("%v", err)
	}
	if *verbose {
		fmt.Printf("Loaded %s (%d functions)\n", modulePath, module.NumFunctions())
	}

	if *disasm {
		for i := 0; i < module.NumFunctions(); i++ {
			fn, err := module.Function(i)
			if err != nil {
				fatal("%v", err)
			}
			fmt.Printf("function %d:\n%s\n", i, fn.Disassemble())
		}
		return
	}

	machine := vm.New(module)
	if *trace {
		machine.SetTracer(vm.NewLogTracer("kumo.vm"))
	}
	if *steps > 0 {
		machine.SetStepLimit(*steps)
	}

	result, runErr := machine.Run()

	if *save {
		if *storePath == "" {
			fatal("-save requires -store or a [store] manifest entry")
		}
		st, err := store.Open(*storePath)
		if err != nil {
			fatal("opening store: %v", err)
		}
		defer st.Close()

		hash, err := st.PutModule(module)
		if err != nil {
			fatal("storing module: %v", err)
		}
		runID, err := st.RecordRun(hash, result, runErr)
		if err != nil {
			fatal("recording run: %v", err)
		}
		if *verbose {
			fmt.Printf("Stored module %s, run %s\n", hash, runID)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
	fmt.Println(result)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
