package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/plc-bridge/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file",
	Long: `Load the configuration file, resolve every IO point against the
process image and report the result. Exits non-zero when the
configuration cannot be used.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	fmt.Printf("Slave endpoint: %s\n\n", cfg.Slave.Addr())

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tADDRESS\tCYCLE\tTIMEOUT\tPOINTS")
	for _, d := range cfg.Devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			d.Name, d.Addr(), d.CycleTime, d.Timeout, len(d.IOPoints))
	}
	w.Flush()

	fmt.Println("\nConfiguration OK")
	return nil
}
