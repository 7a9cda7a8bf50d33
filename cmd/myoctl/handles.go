package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/myoctl/internal/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type handleInfo struct {
	Handle       protocol.Handle `json:"handle"`
	ConfigHandle protocol.Handle `json:"config_handle,omitempty"`
	Subscription string          `json:"subscription"`
}

// handleTable lists every endpoint by handle, LED control included.
func handleTable() *orderedmap.OrderedMap[protocol.Endpoint, handleInfo] {
	table := orderedmap.New[protocol.Endpoint, handleInfo]()
	attrs := protocol.Attributes()
	if led, ok := protocol.AttributeOf(protocol.LedControl); ok {
		attrs = append(attrs, led)
	}
	for _, attr := range attrs {
		table.Set(attr.Endpoint, handleInfo{
			Handle:       attr.Handle,
			ConfigHandle: attr.ConfigHandle,
			Subscription: attr.Subscription.String(),
		})
	}
	return table
}

func newHandlesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "handles",
		Short: "Print the fixed Myo attribute handle map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := handleTable()
			if a.cfg.OutputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), table)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENDPOINT\tHANDLE\tCONFIG\tUPDATES")
			for pair := table.Oldest(); pair != nil; pair = pair.Next() {
				config := "-"
				if pair.Value.ConfigHandle != 0 {
					config = pair.Value.ConfigHandle.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pair.Key, pair.Value.Handle, config, pair.Value.Subscription)
			}
			return w.Flush()
		},
	}
}
