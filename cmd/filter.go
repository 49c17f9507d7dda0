package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/sniff/internal/filter"
)

var filterCmd = &cobra.Command{
	Use:   "filter <expression>",
	Short: "Validate a filter expression",
	Long: `Parse a flag filter expression and print its canonical form.

Flags: ether ip4 ip6 tcp udp icmp, port|N sport|N dport|N, ip|ADDR sip|ADDR dip|ADDR.
All flags must match; port and ip match either direction.

Examples:
  sniff filter "tcp port|443"
  sniff filter "ether sip|127.0.0.1 dport|53"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFilter(strings.Join(args, " "), cmd.OutOrStdout())
	},
}

func runFilter(text string, out io.Writer) error {
	expr, err := filter.ParseExpression(text)
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	if expr.IsEmpty() {
		fmt.Fprintln(out, "✓ Empty filter matches every packet")
		return nil
	}
	fmt.Fprintf(out, "✓ %s (%d flags)\n", expr.String(), expr.Len())
	return nil
}
