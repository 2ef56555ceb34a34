package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultThermalPath is the millidegree sensor exposed by most single board computers
const DefaultThermalPath = "/sys/class/thermal/thermal_zone0/temp"

var errNoSensor = errors.New("no temperature sensor found")

// Source reads raw device counters. Every method fails independently of the others.
type Source interface {
	// CPUTimes returns the cumulative idle and total cpu time of all cpus
	CPUTimes(ctx context.Context) (idle, total float64, err error)
	Memory(ctx context.Context) (total, available uint64, err error)
	Storage(ctx context.Context, path string) (total, free uint64, err error)
	// Temperature returns degrees celsius
	Temperature(ctx context.Context) (float64, error)
	Uptime(ctx context.Context) (time.Duration, error)
}

// SystemSource reads the counters of the local machine
type SystemSource struct {
	// ThermalPath is a file holding millidegrees celsius. When empty the host
	// sensors are queried instead.
	ThermalPath string
}

func (s *SystemSource) CPUTimes(ctx context.Context) (float64, float64, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return 0, 0, fmt.Errorf("read cpu times: %w", err)
	}
	if len(times) == 0 {
		return 0, 0, errors.New("no cpu times reported")
	}

	t := times[0]
	idle := t.Idle + t.Iowait
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	return idle, total, nil
}

func (s *SystemSource) Memory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read memory: %w", err)
	}
	return vm.Total, vm.Available, nil
}

func (s *SystemSource) Storage(ctx context.Context, path string) (uint64, uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, 0, fmt.Errorf("read usage of %s: %w", path, err)
	}
	return usage.Total, usage.Free, nil
}

func (s *SystemSource) Temperature(ctx context.Context) (float64, error) {
	if s.ThermalPath != "" {
		return readMillidegrees(s.ThermalPath)
	}

	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	// partial results come with a warnings error
	for _, sensor := range sensors {
		if sensor.Temperature > 0 {
			return sensor.Temperature, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("read sensors: %w", err)
	}
	return 0, errNoSensor
}

func (s *SystemSource) Uptime(ctx context.Context) (time.Duration, error) {
	seconds, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read uptime: %w", err)
	}
	return time.Duration(seconds) * time.Second, nil
}

func readMillidegrees(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return float64(milli) / 1000, nil
}
