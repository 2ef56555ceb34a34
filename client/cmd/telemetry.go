package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rpi-update-ota/ota-agent/client/internal/telemetry"
)

var (
	telemetryCount int

	telemetryCmd = &cobra.Command{
		Use:   "telemetry",
		Short: "prints device telemetry snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			SetupCloseHandler(ctx, cancel)

			sampler := telemetry.NewSampler(telemetry.Config{
				Interval:    agentConfig.Telemetry.Interval,
				StoragePath: agentConfig.Telemetry.StoragePath,
			}, &telemetry.SystemSource{ThermalPath: agentConfig.Telemetry.ThermalPath})

			return printSnapshots(ctx, cmd.OutOrStdout(), sampler, telemetryCount, agentConfig.Telemetry.Interval)
		},
	}
)

func init() {
	telemetryCmd.Flags().IntVarP(&telemetryCount, "count", "n", 5, "number of snapshots to print")
}

// printSnapshots samples count times, once per interval. The first CPU value is always 0
// because the load is derived from the difference of two samples.
func printSnapshots(ctx context.Context, out io.Writer, sampler *telemetry.Sampler, count int, interval time.Duration) error {
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
		_, err := fmt.Fprintln(out, formatSnapshot(sampler.Sample(ctx)))
		if err != nil {
			return err
		}
	}
	return nil
}

func formatSnapshot(s telemetry.Snapshot) string {
	return fmt.Sprintf("cpu %3d%%  mem %s/%s  storage %s/%s  temp %.1f°C  uptime %s",
		s.CPUPercent,
		humanize.IBytes(s.MemUsed), humanize.IBytes(s.MemTotal),
		humanize.IBytes(s.StorageUsed), humanize.IBytes(s.StorageTotal),
		s.TemperatureC,
		s.Uptime.Truncate(time.Second))
}
