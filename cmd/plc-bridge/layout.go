package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	plcbridge "github.com/edgeo-scada/plc-bridge"
	"github.com/edgeo-scada/plc-bridge/config"
	"github.com/edgeo-scada/plc-bridge/slave"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Print the slave address map",
	Long: `Print the Modbus table segments the slave server exposes for the
configured mapping. Addresses are zero-based and END is exclusive.`,
	RunE: runLayout,
}

func runLayout(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	l := slave.NewLayout(plcbridge.MappingFromConfig(cfg.Slave))

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tREGION\tSTART\tEND\tELEMENTS\tWORDS")
	for _, seg := range l.Describe() {
		words := "-"
		if seg.Words > 0 {
			words = fmt.Sprintf("%d", seg.Words)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			seg.Table, seg.Kind, seg.Start, seg.End, seg.Elements, words)
	}
	w.Flush()

	fmt.Printf("\nWord order: %s\n", l.WordOrder())
	return nil
}
