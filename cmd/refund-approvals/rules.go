package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/dukex/refund-approvals/pkg/persistence/file"
)

var ErrInvalidDocuments = errors.New("invalid rule documents found")

func NewRulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Manage rule and workflow documents",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Validate the rules/ and workflows/ documents of a file store directory",
				ArgsUsage: "<dir>",
				Action: func(_ context.Context, command *cli.Command) error {
					dir := command.Args().First()
					if dir == "" {
						return errors.New("a directory is required")
					}

					failures, err := file.ValidateDirectory(dir)
					if err != nil {
						return err
					}

					out := command.Root().Writer

					if len(failures) == 0 {
						_, err := fmt.Fprintln(out, "all documents are valid")
						return err
					}

					paths := make([]string, 0, len(failures))
					for path := range failures {
						paths = append(paths, path)
					}

					sort.Strings(paths)

					for _, path := range paths {
						if _, err := fmt.Fprintf(out, "%s: %v\n", path, failures[path]); err != nil {
							return err
						}
					}

					return fmt.Errorf("%w: %d", ErrInvalidDocuments, len(failures))
				},
			},
		},
	}
}
