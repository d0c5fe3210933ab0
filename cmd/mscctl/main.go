//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package main

import (
	"context"
	baseerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ardnew/softmsc/host"
	"github.com/ardnew/softmsc/host/class/msc"
	"github.com/ardnew/softmsc/host/hal/linux"
	"github.com/ardnew/softmsc/pkg"
	"github.com/ardnew/softmsc/pkg/prof"
)

// newLogger builds the go-kit logger for the configured level and routes
// the library's slog output through it.
func newLogger() (log.Logger, error) {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logLevel := viper.GetString("log-level")
	switch logLevel {
	case logLevelAll:
		logger = level.NewFilter(logger, level.AllowAll())
	case logLevelDebug:
		logger = level.NewFilter(logger, level.AllowDebug())
	case logLevelInfo:
		logger = level.NewFilter(logger, level.AllowInfo())
	case logLevelWarn:
		logger = level.NewFilter(logger, level.AllowWarn())
	case logLevelError:
		logger = level.NewFilter(logger, level.AllowError())
	case logLevelNone:
		logger = level.NewFilter(logger, level.AllowNone())
	default:
		return nil, errors.Newf("log level %v unknown; possible values are: %s", logLevel, availableLogLevels)
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	// The go-kit filter decides what is written; let every record through
	// to it.
	pkg.SetLogLevel(slog.LevelDebug)
	pkg.SetLogger(pkg.NewKitLogger(logger))
	return logger, nil
}

// Main is the principal function for the binary, wrapped only by `main` for convenience.
func Main() error {
	if err := initConfig(); err != nil {
		return err
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return errors.New("exactly one command must be given")
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		flag.Usage()
		return errors.Newf("unknown command %q", name)
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}

	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var g run.Group
	if listen := viper.GetString("listen"); listen != "" {
		// Run the HTTP server.
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.Handle("/metrics", promhttp.HandlerFor(r, promhttp.HandlerOpts{}))
		prof.Register(mux, viper.GetInt("pprof-rate"))
		l, err := net.Listen("tcp", listen)
		if err != nil {
			return errors.Wrapf(err, "failed to listen on %s", listen)
		}

		g.Add(func() error {
			if err := http.Serve(l, mux); err != nil && !baseerrors.Is(err, http.ErrServerClosed) && !baseerrors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "server exited unexpectedly")
			}
			return nil
		}, func(error) {
			_ = l.Close()
		})
	}

	{
		// Exit gracefully on SIGINT and SIGTERM.
		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
		cancel := make(chan struct{})
		g.Add(func() error {
			select {
			case <-term:
				_ = level.Info(logger).Log("msg", "caught interrupt; stopping")
				return errors.New("interrupted")
			case <-cancel:
				return nil
			}
		}, func(error) {
			close(cancel)
		})
	}

	{
		// Run the command, then stop the group.
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			if path := viper.GetString("cpu-profile"); path != "" {
				stop, err := prof.StartCPU(path)
				if err != nil {
					return err
				}
				defer stop()
			}
			if name == "list" {
				return listDevices(os.Stdout)
			}
			return withDevice(ctx, r, func(d *msc.Device) error {
				return cmd(ctx, d)
			})
		}, func(error) {
			cancel()
		})
	}

	return g.Run()
}

// withDevice opens the configured device, runs discovery and hands the
// engine to fn.
func withDevice(ctx context.Context, reg prometheus.Registerer, fn func(*msc.Device) error) error {
	opts, err := engineOptions()
	if err != nil {
		return err
	}
	opts.Metrics = msc.NewMetrics(reg)

	path, addr, err := selectDevice(viper.GetString("device"))
	if err != nil {
		return err
	}

	h := host.New(linux.NewHostHAL(path), opts.Workers)
	if err := h.Start(ctx); err != nil {
		return errors.Wrapf(err, "start host on %s", path)
	}
	defer h.Stop()

	usbDev, err := h.Open(ctx, addr)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}

	d, err := msc.New(usbDev.RawConfiguration(), usbDev, opts)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Init(ctx); err != nil {
		return err
	}
	return fn(d)
}

// selectDevice returns the device node to open and its bus address. An
// empty path selects the first mass storage device sysfs reports.
func selectDevice(path string) (string, uint8, error) {
	devices, err := linux.FindMassStorage(os.DirFS(linux.SysfsUSBPath))
	if err != nil {
		return "", 0, errors.Wrap(err, "scan for mass storage devices")
	}
	for _, dev := range devices {
		if path == "" || path == dev.DevfsPath {
			return dev.DevfsPath, dev.DevNum, nil
		}
	}
	if path != "" {
		// Not visible in sysfs; the usbfs HAL does not use the address.
		return path, 1, nil
	}
	return "", 0, errors.Wrap(pkg.ErrNoDevice, "no mass storage device attached")
}

func main() {
	if err := Main(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Execution failed: %v\n", err)
		os.Exit(1)
	}
}
