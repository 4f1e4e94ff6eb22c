package main

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/term"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/diag"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/lower"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/mangle"
)

func main() {
	listCmd := &cli.Command{
		Name:        "list",
		Description: "list the built-in sample units",
		Action:      listAct,
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "lower the named sample units and print the instruction stream",
		Action:      dumpAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "irdump",
		Description: "irdump lowers built-in sample translation units to typed IR",
		Commands: []*cli.Command{
			listCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func listAct(c *cli.Command) error {
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func dumpAct(c *cli.Command) error {
	args := []string(c.Args)
	if len(args) == 0 {
		for name := range samples {
			args = append(args, name)
		}
		sort.Strings(args)
	}

	for _, name := range args {
		build, ok := samples[name]
		if !ok {
			return errors.New("unknown sample %v", name)
		}

		reg, unit := build()
		bag := diag.New(tlog.DefaultLogger)
		bag.SetColor(term.IsTerminal(int(os.Stderr.Fd())))

		l := lower.New(lower.Options{}, reg, mangle.Default{}, bag)
		if err := l.LowerUnit(unit); err != nil {
			fmt.Fprintln(os.Stderr, bag.Explain(err))
			return errors.Wrap(err, "lower %v", name)
		}

		fmt.Printf("== %s ==\n", name)
		l.Stream().Dump(os.Stdout)
	}
	return nil
}
