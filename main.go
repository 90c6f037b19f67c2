//    Copyright 2017-2024 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/binkynet/ADCWorker/pkg/config"
	"github.com/binkynet/ADCWorker/pkg/environment"
	"github.com/binkynet/ADCWorker/pkg/logging"
	"github.com/binkynet/ADCWorker/pkg/server"
	"github.com/binkynet/ADCWorker/pkg/service"
	"github.com/binkynet/ADCWorker/pkg/service/bridge"
	"github.com/binkynet/ADCWorker/pkg/service/publisher"
	"github.com/binkynet/ADCWorker/pkg/ui"
)

const (
	projectName = "BinkyNet ADC Worker"
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
	maskAny        = errors.WithStack
)

func main() {
	var configPath string
	var detect bool
	defaults := config.Default()
	var flags config.Config = *defaults

	pflag.StringVarP(&configPath, "config", "c", "", "Path of YAML configuration file")
	pflag.StringVarP(&flags.Log.Level, "level", "l", defaults.Log.Level, "Set log level")
	pflag.StringVarP(&flags.Bridge, "bridge", "b", defaults.Bridge, "Type of bridge to use (rpi|virtual|auto)")
	pflag.StringVar(&flags.I2C.Bus, "bus", defaults.I2C.Bus, "I2C bus device")
	pflag.StringVarP(&flags.I2C.Address, "address", "a", defaults.I2C.Address, "I2C address of the converter")
	pflag.IntVar(&flags.I2C.SclPin, "scl-pin", defaults.I2C.SclPin, "GPIO pin of I2C SCL, used to recover from bus lockups (-1 disables)")
	pflag.BoolVar(&flags.I2C.RecoverFromLockup, "recover-from-lockup", defaults.I2C.RecoverFromLockup, "Try to recover from I2C bus lockups")
	pflag.DurationVar(&flags.Sampling.SettleDelay, "settle-delay", defaults.Sampling.SettleDelay, "Delay between starting a conversion and reading it")
	pflag.IntVar(&flags.Sampling.MaxCycleAttempts, "max-cycle-attempts", defaults.Sampling.MaxCycleAttempts, "Maximum attempts of a single conversion cycle")
	pflag.StringVar(&flags.Sampling.Overlap, "overlap", defaults.Sampling.Overlap, "What to do with overlapping acquisitions (serialize|reject)")
	pflag.DurationVar(&flags.Sampling.PollInterval, "poll-interval", defaults.Sampling.PollInterval, "Interval of monitor acquisitions (0 disables)")
	pflag.StringVar(&flags.Server.Host, "host", defaults.Server.Host, "Host address the servers will listen on")
	pflag.IntVar(&flags.Server.HTTPPort, "http-port", defaults.Server.HTTPPort, "Port the HTTP server will listen on")
	pflag.IntVar(&flags.Server.SSHPort, "ssh-port", defaults.Server.SSHPort, "Port the SSH server will listen on (0 disables)")
	pflag.StringVar(&flags.MQTT.Broker, "mqtt-broker", defaults.MQTT.Broker, "Address (host:port) of the MQTT broker to publish readings to")
	pflag.StringVar(&flags.MQTT.Topic, "mqtt-topic", defaults.MQTT.Topic, "MQTT topic readings are published on")
	pflag.StringVar(&flags.MQTT.LogTopic, "mqtt-log-topic", defaults.MQTT.LogTopic, "MQTT topic logs are published on")
	pflag.BoolVar(&detect, "detect", false, "Detect devices on the I2C bus and exit")
	pflag.Parse()

	cfg, err := loadConfig(configPath, &flags)
	if err != nil {
		Exitf("Invalid configuration: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mqttLogWriter logging.MQTTWriter
	var logOutput io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.MQTT.Broker != "" && cfg.MQTT.LogTopic != "" {
		mqttLogWriter = logging.NewMQTTWriter(ctx)
		logOutput = logging.NewMultiWriter(logOutput, mqttLogWriter)
	}
	logger := zerolog.New(logOutput).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		Exitf("Invalid log level '%s': %v\n", cfg.Log.Level, err)
	}
	logger = logger.Level(level)

	address, err := cfg.ParsedAddress()
	if err != nil {
		Exitf("Invalid address: %v\n", err)
	}

	bridgeType := cfg.Bridge
	if bridgeType == "auto" {
		bridgeType = environment.AutoDetectBridgeType(logger, cfg.I2C.Bus)
		logger.Info().Str("bridge", bridgeType).Msg("Detected bridge type")
	}
	var br bridge.API
	switch bridgeType {
	case environment.BridgeTypeRaspberryPi:
		br, err = bridge.NewRaspberryPiBridge(bridge.BusConfig{
			Location:          cfg.I2C.Bus,
			SclPin:            cfg.I2C.SclPin,
			RecoverFromLockup: cfg.I2C.RecoverFromLockup,
		})
		if err != nil {
			Exitf("Failed to initialize Raspberry Pi Bridge: %v\n", err)
		}
	case environment.BridgeTypeVirtual:
		br, err = bridge.NewVirtualBridge(bridge.VirtualConfig{
			Address: address,
		})
		if err != nil {
			Exitf("Failed to initialize virtual Bridge: %v\n", err)
		}
	default:
		Exitf("Unknown bridge type '%s' (rpi|virtual|auto)\n", bridgeType)
	}

	deps := service.Dependencies{
		Logger: logger,
		Bridge: br,
	}
	var mqttPublisher *publisher.MQTT
	if cfg.MQTT.Broker != "" && !detect {
		mqttPublisher, err = connectMQTT(ctx, cfg, logger)
		if err != nil {
			Exitf("Failed to connect to MQTT broker: %v\n", err)
		}
		defer mqttPublisher.Close()
		deps.Publisher = mqttPublisher
		if mqttLogWriter != nil {
			mqttLogWriter.SetDestination(cfg.MQTT.LogTopic, mqttPublisher)
			mqttLogWriter.Enable(true)
		}
	}

	svc, err := service.NewService(service.Config{
		Address:      address,
		Sampler:      cfg.SamplerConfig(),
		PollInterval: cfg.Sampling.PollInterval,
	}, deps)
	if err != nil {
		Exitf("Failed to initialize Service: %v\n", err)
	}

	if detect {
		for _, addr := range svc.DetectDevices() {
			fmt.Println(addr)
		}
		br.Close()
		return
	}

	srv, err := server.New(server.Config{
		Host:           cfg.Server.Host,
		HTTPPort:       cfg.Server.HTTPPort,
		SSHPort:        cfg.Server.SSHPort,
		SSHHostKeyPath: cfg.Server.SSHHostKeyPath,
	}, logger, ui.NewHandler(svc), svc)
	if err != nil {
		Exitf("Failed to initialize Server: %v\n", err)
	}

	// Prepare to shutdown in a controlled manor
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	if err := g.Wait(); err != nil {
		Exitf("Service run failed: %v\n", err)
	}
}

// loadConfig loads the configuration file (if any) and applies
// all explicitly set flags on top of it.
func loadConfig(path string, flags *config.Config) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, maskAny(err)
		}
	}
	changed := pflag.CommandLine.Changed
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("level", func() { cfg.Log.Level = flags.Log.Level })
	set("bridge", func() { cfg.Bridge = flags.Bridge })
	set("bus", func() { cfg.I2C.Bus = flags.I2C.Bus })
	set("address", func() { cfg.I2C.Address = flags.I2C.Address })
	set("scl-pin", func() { cfg.I2C.SclPin = flags.I2C.SclPin })
	set("recover-from-lockup", func() { cfg.I2C.RecoverFromLockup = flags.I2C.RecoverFromLockup })
	set("settle-delay", func() { cfg.Sampling.SettleDelay = flags.Sampling.SettleDelay })
	set("max-cycle-attempts", func() { cfg.Sampling.MaxCycleAttempts = flags.Sampling.MaxCycleAttempts })
	set("overlap", func() { cfg.Sampling.Overlap = flags.Sampling.Overlap })
	set("poll-interval", func() { cfg.Sampling.PollInterval = flags.Sampling.PollInterval })
	set("host", func() { cfg.Server.Host = flags.Server.Host })
	set("http-port", func() { cfg.Server.HTTPPort = flags.Server.HTTPPort })
	set("ssh-port", func() { cfg.Server.SSHPort = flags.Server.SSHPort })
	set("mqtt-broker", func() { cfg.MQTT.Broker = flags.MQTT.Broker })
	set("mqtt-topic", func() { cfg.MQTT.Topic = flags.MQTT.Topic })
	set("mqtt-log-topic", func() { cfg.MQTT.LogTopic = flags.MQTT.LogTopic })
	if err := cfg.Validate(); err != nil {
		return nil, maskAny(err)
	}
	return cfg, nil
}

// connectMQTT creates and connects the MQTT publisher.
func connectMQTT(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*publisher.MQTT, error) {
	p, err := publisher.NewMQTT(publisher.Config{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topic:    cfg.MQTT.Topic,
	}, log)
	if err != nil {
		return nil, maskAny(err)
	}
	if err := p.Connect(ctx); err != nil {
		return nil, maskAny(err)
	}
	return p, nil
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
