package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/sensor-node/internal/api"
	"github.com/lorawan-server/sensor-node/internal/clock"
	"github.com/lorawan-server/sensor-node/internal/config"
	"github.com/lorawan-server/sensor-node/internal/metrics"
	"github.com/lorawan-server/sensor-node/internal/node"
	"github.com/lorawan-server/sensor-node/internal/output"
	"github.com/lorawan-server/sensor-node/internal/radio"
	"github.com/lorawan-server/sensor-node/internal/sensor"
	"github.com/lorawan-server/sensor-node/pkg/crypto"
	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

func main() {
	// Command line flags
	var (
		configFile   string
		showConfig   bool
		hashPassword string
	)
	flag.StringVar(&configFile, "config", "config/sensor-node.yml", "Configuration file path")
	flag.BoolVar(&showConfig, "show-config", false, "Print the configuration summary and exit")
	flag.StringVar(&hashPassword, "hash-password", "", "Print a bcrypt hash for auth.password_hash and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if hashPassword != "" {
		hash, err := crypto.HashPassword(hashPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if strings.EqualFold(cfg.Log.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Str("devEUI", cfg.Node.DevEUI).Msg("Sensor node starting...")

	devEUI, _, _, _, err := cfg.Keys()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid node identity")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clk := clock.Real{}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Radio
	var r radio.Radio
	switch cfg.Radio.Driver {
	case "nats":
		nc, err := radio.DialNATS(cfg.NATS, "sensor-node-"+devEUI.String())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()

		nr := radio.NewNATSRadio(nc, devEUI, cfg.NATS.SubjectPrefix, clk)
		if err := nr.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start NATS radio")
		}
		defer nr.Close()
		r = nr
	default:
		log.Info().Dur("joinDelay", cfg.Radio.JoinDelay).Msg("Using in-process radio")
		r = radio.NewStub(radio.StubOptions{
			JoinDelay:   cfg.Radio.JoinDelay,
			SlotEnabled: cfg.Radio.SlotEnabled,
			AutoTxDone:  true,
			TxDoneDelay: 500 * time.Millisecond,
			Clock:       clk,
		})
	}

	// Outputs
	bank := output.NewBank()
	var lowPowerPin output.Pin
	for ch := 0; ch < output.Channels; ch++ {
		_ = bank.Attach(ch, output.LogPin{Name: fmt.Sprintf("gpio%d", ch)})
	}
	if cfg.Outputs.LowPowerPin {
		lowPowerPin = output.LogPin{Name: "lpin"}
	}
	if cfg.Outputs.Mirror {
		client, err := output.DialMQTT(ctx, cfg.MQTT)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
		}
		for ch := 0; ch < output.Channels; ch++ {
			topic := output.Topic(cfg.MQTT.TopicPrefix, devEUI.String(), fmt.Sprintf("gpio%d", ch))
			_ = bank.Attach(ch, output.NewMQTTPin(client, topic, cfg.MQTT.QoS))
		}
		if cfg.Outputs.LowPowerPin {
			lowPowerPin = output.NewMQTTPin(client, output.Topic(cfg.MQTT.TopicPrefix, devEUI.String(), "lpin"), cfg.MQTT.QoS)
		}
	}

	// Sensors
	source, _ := sensor.ParseCO2Source(cfg.Sensors.CO2Source)
	store := sensor.NewStore(source)
	bus := sensor.NewBus(*cfg.Sensors.ExclusiveBus)

	var samplers []*sensor.Sampler
	if cfg.Sensors.TempHum {
		samplers = append(samplers, sensor.NewTempHumSampler(sensor.NewSimTempHum(cfg.Sensors.Seed), &store.TempHum, bus, clk, m))
	}
	if cfg.Sensors.CO2VOC {
		samplers = append(samplers, sensor.NewCO2VOCSampler(sensor.NewSimIAQ(cfg.Sensors.Seed+1, cfg.Sensors.IAQWarmup), &store.CO2VOC, bus, clk, m))
	}
	if cfg.Sensors.Gas {
		gas := sensor.NewSimGas(cfg.Sensors.Seed+2, cfg.Sensors.GasSamples, 10*time.Millisecond)
		samplers = append(samplers, sensor.NewGasSampler(gas, &store.Gas, clk, m))
	}

	// Duty cycle
	machine, err := node.New(cfg, node.Deps{
		Radio:       r,
		Events:      radio.NewEventSink(cfg.Node.EventCapacity, m),
		Store:       store,
		Outputs:     bank,
		Clock:       clk,
		Metrics:     m,
		LowPowerPin: lowPowerPin,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create duty cycle")
	}

	mode, _ := lorawan.ParseOperatingMode(cfg.Node.OpMode)
	log.Info().
		Str("mode", mode.String()).
		Int("samplers", len(samplers)).
		Bool("exclusiveBus", bus.Exclusive()).
		Msg("Node assembled")

	// WaitGroup for services
	var wg sync.WaitGroup

	for _, s := range samplers {
		wg.Add(1)
		go func(s *sensor.Sampler) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				log.Error().Err(err).Str("sensor", s.Name()).Msg("Sampler stopped")
			}
		}(s)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := machine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Duty cycle stopped")
			cancel()
		}
	}()

	// Start API server
	var apiServer *api.RESTServer
	if cfg.API.Enabled {
		if cfg.JWT.Secret == "" {
			secret, err := crypto.GenerateRandomString(32)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to generate JWT secret")
			}
			cfg.JWT.Secret = secret
			log.Warn().Msg("jwt.secret not set, using a random secret; tokens will not survive a restart")
		}
		if cfg.Auth.PasswordHash == "" {
			log.Warn().Msg("auth.password_hash not set, login is disabled")
		}

		injector, _ := r.(radio.DownlinkInjector)
		apiServer = api.NewRESTServer(cfg, machine, injector, reg)

		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("REST API server failed")
				cancel()
			}
		}()
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-ctx.Done():
	}

	// Cancel context
	cancel()

	// Shutdown API server
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
		}
		shutdownCancel()
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Sensor node stopped")
}
