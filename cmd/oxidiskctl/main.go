// Command oxidiskctl is a small operator CLI over the engine's sidecar,
// sudoers and journal-inspection surfaces (spec §6): sidecar status, the
// sudoers.d helper fragment, and the single-slot operation journal left
// behind by an interrupted copy. It is
// not the GUI host's transport -- it exists for scripted smoke tests and
// for a human operator to inspect engine state from a terminal.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/oxidisk/oxidisk/journal"
	"github.com/oxidisk/oxidisk/sidecar"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	defer klog.Flush()

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)

	app := &cli.App{
		Name:  "oxidiskctl",
		Usage: "inspect the disk operations engine's sidecar catalog and operation journal",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "v", Usage: "klog verbosity level"},
		},
		Before: func(c *cli.Context) error {
			if v := c.Int("v"); v > 0 {
				return klogFlags.Set("v", strconv.Itoa(v))
			}
			return nil
		},
		Commands: []*cli.Command{
			sidecarStatusCommand,
			journalCommand,
			installSudoersCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "oxidiskctl: %s\n", err)
		os.Exit(1)
	}
}

var sidecarStatusCommand = &cli.Command{
	Name:  "sidecar-status",
	Usage: "report resolution status for every catalog sidecar binary (spec status_all)",
	Action: func(c *cli.Context) error {
		reg, err := sidecar.New()
		if err != nil {
			return err
		}
		statuses := reg.StatusAll()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	},
}

var journalCommand = &cli.Command{
	Name:  "journal",
	Usage: "inspect or clear the single-slot operation journal",
	Subcommands: []*cli.Command{
		{
			Name:      "show",
			Usage:     "print the persisted journal record, if any",
			ArgsUsage: "JOURNAL_PATH",
			Action: func(c *cli.Context) error {
				path := c.Args().First()
				if path == "" {
					return cli.Exit("journal show: a journal path is required", 2)
				}
				store := journal.New(path)
				record, err := store.Peek()
				if err != nil {
					return err
				}
				if record == nil {
					fmt.Println("no journal record present")
					return nil
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(record)
			},
		},
		{
			Name:      "clear",
			Usage:     "discard the persisted journal record without replaying it (spec clear_operation_journal)",
			ArgsUsage: "JOURNAL_PATH",
			Action: func(c *cli.Context) error {
				path := c.Args().First()
				if path == "" {
					return cli.Exit("journal clear: a journal path is required", 2)
				}
				store := journal.New(path)
				if err := store.Abort(); err != nil {
					return err
				}
				fmt.Println("journal cleared")
				return nil
			},
		},
	},
}

var installSudoersCommand = &cli.Command{
	Name:  "install-sudoers",
	Usage: "install the sudoers.d fragment granting the helper NOPASSWD execution of resolved sidecars",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "path", Required: true, Usage: "target sudoers.d fragment path"},
		&cli.StringFlag{Name: "user", Required: true, Usage: "user the grant applies to"},
		&cli.StringFlag{Name: "helper", Required: true, Usage: "absolute path of the privileged helper executable"},
	},
	Action: func(c *cli.Context) error {
		reg, err := sidecar.New()
		if err != nil {
			return err
		}
		if err := sidecar.InstallSudoersFragment(reg, sidecar.SudoersRequest{
			Path:       c.String("path"),
			User:       c.String("user"),
			HelperPath: c.String("helper"),
		}); err != nil {
			return err
		}
		fmt.Printf("installed sudoers fragment at %s\n", c.String("path"))
		return nil
	},
}
