// Command router is the edgerouter boot/config layer: it parses the CLI,
// loads the routing table, opens a raw-socket link on each named
// interface and runs the forwarding engine until the link fails.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ivanv/edgerouter/pkg/ethernet"
	"github.com/ivanv/edgerouter/pkg/ip"
	"github.com/ivanv/edgerouter/pkg/router"
)

var logLevel string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(-1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "router <routing-table-file> <iface0> [iface1 ...]",
		Short: "A software IPv4 router atop raw Ethernet sockets",
		Long: `router loads a static routing table and binds one raw AF_PACKET
socket per named interface, then forwards IPv4 traffic between them:
performing longest-prefix-match route lookups, resolving next hops via
ARP, and replying to traffic addressed to the router itself with ICMP.`,
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE:         runRouter,
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

func runRouter(cmd *cobra.Command, args []string) error {
	logger := newLogger(logLevel)

	tablePath := args[0]
	ifnames := args[1:]

	table, err := ip.LoadRouteTable(tablePath)
	if err != nil {
		return fmt.Errorf("load routing table %s: %w", tablePath, err)
	}
	logger.Info().Str("file", tablePath).Int("routes", table.Size()).Msg("routing table loaded")

	link, err := ethernet.NewRawLink(ifnames)
	if err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	defer link.Close()
	logger.Info().Strs("interfaces", ifnames).Msg("link opened")

	r := router.New(link, table, logger)
	if err := r.Run(); err != nil {
		return fmt.Errorf("link receive failed: %w", err)
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().
		Timestamp().
		Logger()
}
