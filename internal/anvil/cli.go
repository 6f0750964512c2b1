package anvil

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: anvil <command> [arguments]")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"forge, f", "[--no-release-check] <url|path|name>", "Acquire, build and install a package"},
		{"search, s", "<query>", "Search the package index"},
		{"list, ls", "[query]", "List installed packages, optionally filter by name"},
		{"uninstall, r", "<pkg>", "Uninstall package(s)"},
		{"update, u", "", "Sync the central index and hammers"},
		{"submit", "<name> <url> [desc]", "Add a repository to the index"},
		{"hammer", "[name] [url]", "Add a formula repository, or list hammers"},
		{"unhammer", "<name>", "Remove a formula repository"},
		{"repos", "", "List configured index sources"},
		{"index", "[repair]", "Show the merged index, or repair its store"},
		{"housekeeping, hk", "", "Reclaim stale workspaces and orphan binaries"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
}

func fail(err error) int {
	colArrow.Print("-> ")
	colError.Printf("%v\n", err)
	return 1
}

// Main is the CLI entrypoint for cmd/anvil.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					// Mid install-swap: block the first signal, force
					// exit only on a second one.
					colArrow.Print("\n-> ")
					colError.Printf("Critical operation in progress (install swap). Press Ctrl+C AGAIN to force exit NOW.\n")

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
					cancel()

					time.Sleep(100 * time.Millisecond)

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(0)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ""
	if root := os.Getenv("ANVIL_ROOT"); root != "" {
		configPath = filepath.Join(root, "anvil.conf")
	} else if home, err := os.UserHomeDir(); err == nil {
		configPath = filepath.Join(home, ".anvil", "anvil.conf")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", configPath, err)
	}

	exec := NewExecutor(ctx)
	a, err := NewAnvil(cfg, exec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	exitCode := run(ctx, a, os.Args[1], os.Args[2:])
	cancel()
	os.Exit(exitCode)
}

func run(ctx context.Context, a *Anvil, cmd string, args []string) int {
	switch cmd {
	case "forge", "f":
		var targets []string
		for _, arg := range args {
			if arg == "--no-release-check" {
				a.ReleaseCheck = false
				continue
			}
			targets = append(targets, arg)
		}
		if len(targets) < 1 {
			return fail(fmt.Errorf("forge requires a URL, directory or package name"))
		}
		for _, target := range targets {
			if _, err := a.Forge(ctx, target); err != nil {
				return fail(err)
			}
		}
		a.warnIfBinDirNotOnPath()

	case "search", "s":
		if len(args) < 1 {
			return fail(fmt.Errorf("search requires a query"))
		}
		matches := a.Index.Search(args[0])
		if len(matches) == 0 {
			colArrow.Print("-> ")
			colNote.Printf("No packages match %q\n", args[0])
			return 0
		}
		var lines []string
		for _, e := range matches {
			line := fmt.Sprintf("%-24s %s", e.Name, e.URL)
			if e.Description != "" {
				line += "  " + e.Description
			}
			lines = append(lines, line)
		}
		if err := runPager("Search: "+args[0], lines); err != nil {
			return fail(err)
		}

	case "list", "ls":
		pkgs := a.InstalledPackages()
		var lines []string
		for _, p := range pkgs {
			if len(args) > 0 && !strings.Contains(p.Name, args[0]) {
				continue
			}
			line := fmt.Sprintf("%-24s %-12s %s", p.Name, p.Version, p.BuildSystem)
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			cPrintln(colNote, "No packages installed")
			return 0
		}
		if err := runPager("Installed packages", lines); err != nil {
			return fail(err)
		}

	case "uninstall", "r":
		if len(args) < 1 {
			return fail(fmt.Errorf("uninstall requires a package name"))
		}
		for _, name := range args {
			if err := a.Uninstall(name); err != nil {
				return fail(err)
			}
		}

	case "update", "u":
		if err := a.Index.Update(a.Exec, centralIndexURL); err != nil {
			return fail(err)
		}

	case "submit":
		if len(args) < 2 {
			return fail(fmt.Errorf("submit requires a package name and a repository URL"))
		}
		desc := ""
		if len(args) > 2 {
			desc = strings.Join(args[2:], " ")
		}
		if err := a.Submit(args[0], args[1], desc); err != nil {
			return fail(err)
		}

	case "hammer":
		switch len(args) {
		case 0:
			names := a.Hammers()
			if len(names) == 0 {
				cPrintln(colNote, "No hammers installed")
				return 0
			}
			for _, name := range names {
				fmt.Println(name)
			}
		case 1:
			// Bare URL form: the hammer is named after the repository.
			if err := a.AddHammer("", args[0]); err != nil {
				return fail(err)
			}
		default:
			if err := a.AddHammer(args[0], args[1]); err != nil {
				return fail(err)
			}
		}

	case "unhammer":
		if len(args) < 1 {
			return fail(fmt.Errorf("unhammer requires a hammer name"))
		}
		if err := a.RemoveHammer(args[0]); err != nil {
			return fail(err)
		}

	case "repos":
		a.PrintRepos()

	case "index":
		if len(args) > 0 && args[0] == "repair" {
			removed, err := a.Index.Repair()
			if err != nil {
				return fail(err)
			}
			colArrow.Print("-> ")
			colSuccess.Printf("Index repair removed %d corrupt entries\n", removed)
			return 0
		}
		var lines []string
		for _, e := range a.Index.List() {
			lines = append(lines, fmt.Sprintf("%-10s %-24s %s", e.Origin, e.Name, e.URL))
		}
		if len(lines) == 0 {
			colArrow.Print("-> ")
			colNote.Println("Index is empty; run 'anvil update' first")
			return 0
		}
		if err := runPager("Package index", lines); err != nil {
			return fail(err)
		}

	case "housekeeping", "hk":
		if _, err := a.Housekeeping(); err != nil {
			return fail(err)
		}

	case "version", "--version", "-v":
		fmt.Printf("anvil %s (%s)\n", version, buildDate)

	case "help", "--help", "-h":
		printHelp()

	default:
		colArrow.Print("-> ")
		colError.Printf("Unknown command %q\n", cmd)
		printHelp()
		return 1
	}
	return 0
}
