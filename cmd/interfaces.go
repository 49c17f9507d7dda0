package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/sniff/internal/source/pcap"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInterfaces(pcap.ListInterfaces, cmd.OutOrStdout())
	},
}

func runInterfaces(list func() ([]pcap.Interface, error), out io.Writer) error {
	ifaces, err := list()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}
	if len(ifaces) == 0 {
		fmt.Fprintln(out, "no capture devices found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESSES\tDESCRIPTION")
	for _, i := range ifaces {
		addrs := make([]string, 0, len(i.Addresses))
		for _, a := range i.Addresses {
			addrs = append(addrs, a.String())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", i.Name, strings.Join(addrs, ","), i.Description)
	}
	return w.Flush()
}
