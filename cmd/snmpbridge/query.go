package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wiremaps/snmpbridge/internal/client"
	"github.com/wiremaps/snmpbridge/internal/engine"
	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/protocol"
	"github.com/wiremaps/snmpbridge/internal/session"
	"github.com/wiremaps/snmpbridge/internal/varbind"
)

type queryFlags struct {
	community      string
	version        int
	timeout        time.Duration
	retries        int
	raw            bool
	maxRepetitions int
	nonRepeaters   int
}

func queryCmd(g *globalFlags, name, short string) *cobra.Command {
	op, err := protocol.ParseOp(name)
	if err != nil {
		panic(err)
	}
	f := &queryFlags{}

	cmd := &cobra.Command{
		Use:   name + " HOST OID...",
		Short: short,
		Long: fmt.Sprintf(`Send one SNMP %s request to HOST and print the result.

HOST is host, host:port or [v6addr]:port; the port defaults to 161.
OIDs are numeric, e.g. .1.3.6.1.2.1.1.1.0.`, op),
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			vals, err := runQuery(ctx, g, f, op, args[0], args[1:])
			if err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), f.raw).values(vals)
		},
	}

	cmd.Flags().StringVar(&f.community, "community", "public", "Community string")
	cmd.Flags().IntVar(&f.version, "snmp-version", 2, "SNMP version: 1 or 2 (v2c)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", engine.DefaultTimeout, "Wait per attempt")
	cmd.Flags().IntVar(&f.retries, "retries", engine.DefaultRetries, "Retransmissions after the first attempt")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "Plain output without styling or number grouping")
	if op == protocol.OpGetBulk {
		def := session.DefaultBulkParams()
		cmd.Flags().IntVar(&f.maxRepetitions, "max-repetitions", def.MaxRepetitions, "Successors returned per repeated OID")
		cmd.Flags().IntVar(&f.nonRepeaters, "non-repeaters", def.NonRepeaters, "Leading OIDs fetched only once")
	}

	return cmd
}

// runQuery starts a private client, runs one request and tears the client
// down again.
func runQuery(ctx context.Context, g *globalFlags, f *queryFlags, op protocol.Op, host string, oids []string) (*varbind.Values, error) {
	version, err := protocol.ParseVersion(f.version)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLoggerWithWriter(g.logLevel, g.logFormat, os.Stderr)
	c, err := client.New(engine.Config{Timeout: f.timeout, Retries: f.retries}, logger, nil)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	target, err := c.Open(ctx, protocol.Peer{Host: host, Community: f.community, Version: version})
	if err != nil {
		return nil, err
	}
	defer target.Close(context.Background())

	switch op {
	case protocol.OpGetNext:
		return target.GetNext(ctx, oids...)
	case protocol.OpGetBulk:
		return target.GetBulk(ctx, session.BulkParams{
			MaxRepetitions: f.maxRepetitions,
			NonRepeaters:   f.nonRepeaters,
		}, oids...)
	default:
		return target.Get(ctx, oids...)
	}
}
