//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package main

import (
	"fmt"
	"strings"

	"github.com/efficientgo/core/errors"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ardnew/softmsc/host/class/msc"
)

const (
	logLevelAll   = "all"
	logLevelDebug = "debug"
	logLevelInfo  = "info"
	logLevelWarn  = "warn"
	logLevelError = "error"
	logLevelNone  = "none"
)

var availableLogLevels = strings.Join([]string{
	logLevelAll,
	logLevelDebug,
	logLevelInfo,
	logLevelWarn,
	logLevelError,
	logLevelNone,
}, ", ")

const usage = `Usage: mscctl [flags] <command>

Commands:
  list     list attached Bulk-Only mass storage devices
  info     discover a device and print its identity and capacities
  ready    issue TEST UNIT READY
  read     read --count blocks at --lba to --output (stdout by default)
  write    write --input (stdin by default) at --lba
  format   issue FORMAT UNIT on --lun
  reset    issue a Bulk-Only Mass Storage Reset

Flags:
`

// initConfig defines config flags, config file, and envs.
func initConfig() error {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	cfgFile := flag.String("config", "", "Path to the config file.")
	flag.String("log-level", logLevelInfo, fmt.Sprintf("Log level to use. Possible values: %s", availableLogLevels))
	flag.String("listen", "", "The address at which to serve health, metrics and pprof; empty disables the server.")
	flag.Int("pprof-rate", 0, "Block and mutex profile sampling rate served under /debug/pprof/; zero leaves sampling off.")
	flag.String("cpu-profile", "", "Write a CPU profile of the command to this file.")
	flag.String("device", "", "usbfs device node, e.g. /dev/bus/usb/001/004. Defaults to the first mass storage device found.")
	flag.Uint8("lun", 0, "Logical unit to address.")
	flag.Uint32("lba", 0, "First logical block of a read or write.")
	flag.Uint32("count", 1, "Number of blocks to read.")
	flag.String("input", "", "File to write to the device; empty reads stdin.")
	flag.String("output", "", "File to store read blocks in; empty writes stdout.")

	flag.Parse()
	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		return errors.Wrap(err, "failed to bind config")
	}

	if *cfgFile != "" {
		viper.SetConfigFile(*cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/mscctl/")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("mscctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "failed to read config file")
		}
	}
	return nil
}

// engineOptions decodes the "msc" section of the config over the engine
// defaults.
func engineOptions() (msc.Options, error) {
	return msc.DecodeOptions(viper.GetStringMap("msc"))
}
