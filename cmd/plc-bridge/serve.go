package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	plcbridge "github.com/edgeo-scada/plc-bridge"
	"github.com/edgeo-scada/plc-bridge/buffer"
	"github.com/edgeo-scada/plc-bridge/config"
)

var (
	scanInterval   time.Duration
	statusInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Start the master polling engine and the slave server and run until
SIGINT or SIGTERM.

The scan interval drives the write journal: values staged by device
polls and slave masters become visible in the process image once per
scan, mirroring a PLC scan cycle.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&scanInterval, "scan", 100*time.Millisecond, "journal commit interval")
	serveCmd.Flags().DurationVar(&statusInterval, "status", time.Minute, "device status log interval (0 to disable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	im := buffer.NewImage()
	bridge, err := plcbridge.New(cfg,
		plcbridge.WithLogger(logger),
		plcbridge.WithMemory(im),
	)
	if err != nil {
		return err
	}

	if err := bridge.Start(); err != nil {
		logger.Warn("startup incomplete, retrying in background", "error", err)
	}
	defer bridge.Stop()

	logger.Info("bridge running",
		"run_id", bridge.RunID(),
		"slave_addr", cfg.Slave.Addr(),
		"devices", len(cfg.Devices),
		"scan", scanInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	scan := time.NewTicker(scanInterval)
	defer scan.Stop()

	var status <-chan time.Time
	if statusInterval > 0 {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		status = ticker.C
	}

	for {
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
			return nil
		case <-scan.C:
			im.Commit()
		case <-status:
			for _, st := range bridge.DeviceStatus() {
				logger.Info("device status",
					"device", st.Device,
					"state", st.State.String(),
					"cycles", st.Cycles,
					"point_errors", st.PointErrors,
					"reconnects", st.Reconnects)
			}
		}
	}
}
