package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type feedOptions struct {
	*rootOptions
	output string
}

func newFeedCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &feedOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Render the persisted store as iCalendar without touching the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func runFeed(opts *feedOptions, stdout io.Writer) error {
	cfg, err := loadConfig(opts.rootOptions)
	if err != nil {
		return err
	}
	gw, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if c, ok := gw.(io.Closer); ok {
		defer c.Close()
	}

	doc, ok := st.Document()
	if !ok {
		return errors.New("no persisted state found at " + gw.Location())
	}

	if opts.output == "" {
		_, err = fmt.Fprint(stdout, doc)
		return err
	}
	return os.WriteFile(opts.output, []byte(doc), 0o644)
}
