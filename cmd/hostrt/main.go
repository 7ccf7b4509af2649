// hostrt CLI - runs scripts in a simulated browser window
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/browser"
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/codecache"
	"github.com/chazu/hostrt/compiler"
	"github.com/chazu/hostrt/config"
	"github.com/chazu/hostrt/metrics"
	"github.com/chazu/hostrt/session"
	"github.com/chazu/hostrt/vm"
)

func main() {
	configDir := flag.String("config", ".", "Directory to search upwards for hostrt.toml")
	profileFlag := flag.String("profile", "", "Browser profile, e.g. 'chrome 120' or 'ie:8' (default from config)")
	verbosity := flag.Int("v", -1, "Log verbosity (default from config)")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	expr := flag.String("e", "", "Evaluate a script given on the command line")
	members := flag.String("members", "", "List the prototype members of a type for the profile")
	listTypes := flag.Bool("types", false, "List the host types")
	disasm := flag.Bool("disasm", false, "Print bytecode instead of running")
	noCache := flag.Bool("no-cache", false, "Compile without the code cache")
	showMetrics := flag.Bool("metrics", false, "Print runtime metrics after the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hostrt [options] [scripts...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs scripts in one simulated browser window.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hostrt -profile 'ie 6' page.js         # Run page.js as Internet Explorer 6\n")
		fmt.Fprintf(os.Stderr, "  hostrt -e 'navigator.userAgent'        # Evaluate an expression\n")
		fmt.Fprintf(os.Stderr, "  hostrt -profile ff:55 -members Document # List Document members for Firefox 55\n")
		fmt.Fprintf(os.Stderr, "  hostrt -disasm page.js                 # Show compiled bytecode\n")
		fmt.Fprintf(os.Stderr, "  hostrt -metrics a.js b.js              # Print cache and session counters\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fatal(err)
	}
	if *verbosity >= 0 {
		cfg.Runtime.Verbosity = *verbosity
	}
	commonlog.Configure(cfg.Runtime.Verbosity, nil)

	profile, err := cfg.BrowserProfile()
	if *profileFlag != "" {
		profile, err = capability.ParseProfile(*profileFlag)
	}
	if err != nil {
		fatal(err)
	}

	registry := browser.NewRegistry()
	descriptors, err := cfg.LoadDescriptors()
	if err != nil {
		fatal(err)
	}
	if err := registry.ApplyDescriptors(descriptors); err != nil {
		fatal(err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	builder := binding.NewBuilder(registry, m)

	if *listTypes {
		for _, typ := range registry.Types() {
			fmt.Println(typ)
		}
		return
	}
	if *members != "" {
		if err := printMembers(builder, *members, profile); err != nil {
			fatal(err)
		}
		return
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		fatal(err)
	}
	defer closeStore()

	comp := compiler.New(compiler.Options{Verify: cfg.Runtime.Verify, Metrics: m})
	cache := codecache.New(codecache.Options{Compiler: comp, Store: store, Metrics: m})

	scripts, err := readScripts(flag.Args(), *expr)
	if err != nil {
		fatal(err)
	}
	if *noCache {
		for i := range scripts {
			scripts[i].key = ""
		}
	}

	if *disasm {
		for _, sc := range scripts {
			u, err := cache.LoadOrCompile(sc.source, sc.key)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("; %s (compilation %d)\n%s\n", sc.name, u.CompilationID, u.Disassemble())
		}
		return
	}

	manager := session.NewManager(session.Options{
		Builder:  builder,
		Cache:    cache,
		Metrics:  m,
		MaxDepth: cfg.Runtime.MaxDepth,
	})
	defer manager.CloseAll()

	s, err := manager.Open(profile, browser.WindowOptions{})
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	alerts := &alertPrinter{}
	for _, sc := range scripts {
		result, err := s.EvalString(ctx, sc.source, sc.key)
		alerts.flush(ctx, s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", sc.name, err)
			manager.CloseAll()
			closeStore()
			os.Exit(1)
		}
		if sc.name == "-e" {
			fmt.Println(result)
		}
	}

	if *interactive || len(scripts) == 0 {
		runREPL(ctx, s, alerts)
	}

	if *showMetrics {
		if err := metrics.WriteText(os.Stdout, reg); err != nil {
			fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
		}
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

type script struct {
	name   string
	key    string
	source string
}

// readScripts loads the files to run. Each file is cached under its
// absolute path.
func readScripts(paths []string, expr string) ([]script, error) {
	var out []script
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out = append(out, script{name: p, key: abs, source: string(data)})
	}
	if expr != "" {
		out = append(out, script{name: "-e", source: expr})
	}
	return out, nil
}

// openStore opens the configured code cache store and returns its closer.
func openStore(cfg *config.Config) (codecache.Store, func() error, error) {
	noop := func() error { return nil }
	loc := cfg.CacheLocation()
	switch cfg.Cache.Backend {
	case config.BackendFile:
		fs, err := codecache.NewFileStore(loc, cfg.Cache.Compress)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(loc), 0o755); err != nil {
			return nil, noop, err
		}
		db, err := codecache.OpenSQLiteStore(loc, cfg.Cache.Compress)
		if err != nil {
			return nil, noop, err
		}
		return db, db.Close, nil
	}
	return codecache.NewMemoryStore(), noop, nil
}

// printMembers lists the prototype of typ and its ancestors for profile.
func printMembers(builder *binding.Builder, typ string, profile capability.Profile) error {
	p, err := builder.BuildPrototype(typ, profile)
	if err != nil {
		return err
	}
	fmt.Printf("%s for %s (constructible: %v)\n", typ, profile, p.Constructible())
	for obj := p.Object; obj != nil; obj = obj.Prototype() {
		names := obj.OwnKeys()
		sort.Strings(names)
		fmt.Printf("  %s\n", obj.Class())
		for _, name := range names {
			d, _ := obj.OwnProperty(name)
			fmt.Printf("    %-24s %s\n", name, d.Attrs)
		}
	}
	return nil
}

// alertPrinter prints the window's alert messages once each.
type alertPrinter struct {
	seen int
}

func (p *alertPrinter) flush(ctx context.Context, s *session.Session) {
	var alerts []string
	s.Do(ctx, func(w *browser.Window, _ *vm.Interpreter) error {
		alerts = w.Alerts()
		return nil
	})
	for _, a := range alerts[min(p.seen, len(alerts)):] {
		fmt.Printf("[alert] %s\n", a)
	}
	p.seen = len(alerts)
}

// runREPL reads scripts from stdin. A line ending in ';' or an empty line
// runs the accumulated input.
func runREPL(ctx context.Context, s *session.Session, alerts *alertPrinter) {
	fmt.Printf("hostrt REPL, %s (type 'exit' to quit)\n\n", s.Profile)

	scanner := bufio.NewScanner(os.Stdin)
	lineBuffer := strings.Builder{}

	for {
		if lineBuffer.Len() == 0 {
			fmt.Print(">> ")
		} else {
			fmt.Print(".. ")
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if lineBuffer.Len() == 0 && (line == "exit" || line == "quit") {
			break
		}

		if line != "" {
			if lineBuffer.Len() > 0 {
				lineBuffer.WriteString("\n")
			}
			lineBuffer.WriteString(line)
			if !strings.HasSuffix(strings.TrimSpace(line), ";") {
				continue
			}
		}

		input := strings.TrimSpace(lineBuffer.String())
		lineBuffer.Reset()
		if input == "" {
			continue
		}
		result, err := s.EvalString(ctx, input, "")
		alerts.flush(ctx, s)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Println(result)
	}
	fmt.Println()
}
