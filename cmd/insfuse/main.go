package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/relabs-tech/gnss-ins-fuse/internal/biasprior"
	"github.com/relabs-tech/gnss-ins-fuse/internal/config"
	"github.com/relabs-tech/gnss-ins-fuse/internal/coord"
	"github.com/relabs-tech/gnss-ins-fuse/internal/eskf"
	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/imuhw"
	"github.com/relabs-tech/gnss-ins-fuse/internal/livemonitor"
	"github.com/relabs-tech/gnss-ins-fuse/internal/mqttstream"
	"github.com/relabs-tech/gnss-ins-fuse/internal/nmeastream"
	"github.com/relabs-tech/gnss-ins-fuse/internal/pipeline"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
	"github.com/relabs-tech/gnss-ins-fuse/internal/turndetect"
)

func main() {
	txtPath := flag.String("txt_path", "", "input log path (offline mode)")
	offlineMode := flag.Bool("offline_mode", false, "run the offline replay-and-sweep pipeline; otherwise realtime")
	gpsTimeOffset := flag.Float64("gps_time_offset", 0, "GNSS-to-IMU time offset in seconds, offline mode only")
	enableTurnDetection := flag.Bool("enable_turn_detection", false, "gate GNSS observations on detected turns, offline mode only")
	configPath := flag.String("config", "./ins_config.txt", "path to the flat configuration file")
	biasPriorPath := flag.String("bias_prior_path", "", "optional path to a bias-prior JSON file")
	mqttBroker := flag.String("mqtt_broker", "", "broker URL for the realtime MQTT transport; unset falls back to serial/hardware sources")
	monitorAddr := flag.String("monitor_addr", "", "if set, serve the live pose websocket (realtime mode) on this address, e.g. :8090")
	flag.Parse()

	if *txtPath == "" && !*offlineMode {
		// realtime mode does not require a log file
	} else if *txtPath == "" {
		log.Fatal("--txt_path is required in offline mode")
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg := config.Get()

	eskfOpt := eskf.DefaultOptions()
	eskfOpt.ImuDT = cfg.IMUDt
	eskfOpt.GyroVar = cfg.GyroVar
	eskfOpt.AcceVar = cfg.AcceVar
	eskfOpt.BiasGyroVar = cfg.BiasGyroVar
	eskfOpt.BiasAcceVar = cfg.BiasAcceVar
	eskfOpt.GnssPosNoise = cfg.GnssPosNoise
	eskfOpt.GnssHeightNoise = cfg.GnssHeightNoise
	eskfOpt.GnssAngNoise = cfg.GnssAngNoise
	eskfOpt.UpdateBiasGyro = cfg.UpdateBiasGyro
	eskfOpt.UpdateBiasAcce = cfg.UpdateBiasAcce
	eskfOpt.EnableTimeCompensation = cfg.EnableTimeCompensation
	eskfOpt.FixedTimeDelay = cfg.FixedTimeDelay
	eskfOpt.PhoneRollInstall = cfg.PhoneRollInstall
	eskfOpt.PhonePitchInstall = cfg.PhonePitchInstall
	eskfOpt.PhoneHeadingInstall = cfg.PhoneHeadingInstall

	priorPath := *biasPriorPath
	if priorPath == "" {
		priorPath = cfg.BiasPriorPath
	}
	if priorPath != "" {
		gyroBias, accelBias, err := biasprior.Load(priorPath)
		if err != nil {
			log.Fatalf("bias prior: %v", err)
		}
		eskfOpt.InitialGyroBias = gyroBias
		eskfOpt.InitialAccelBias = accelBias
	}

	coordOpt := coord.Options{
		AntennaLeverArm:   rotation.NewVec3(cfg.AntennaLeverArmX, cfg.AntennaLeverArmY, cfg.AntennaLeverArmZ),
		AntennaYawBiasRad: cfg.AntennaYawBias,
	}
	if err := coordOpt.Validate(); err != nil {
		log.Fatalf("coord: %v", err)
	}

	if *offlineMode {
		runOffline(*txtPath, *gpsTimeOffset, *enableTurnDetection, cfg, eskfOpt, coordOpt)
		return
	}
	runRealtime(*mqttBroker, *monitorAddr, cfg, eskfOpt, coordOpt)
}

func runOffline(txtPath string, gpsTimeOffset float64, enableTurnDetection bool, cfg *config.Config, eskfOpt eskf.Options, coordOpt coord.Options) {
	opt := pipeline.Options{
		ESKF:             eskfOpt,
		Coord:            coordOpt,
		EnableTurnDetect: enableTurnDetection,
		Turn: turndetect.Config{
			StartRateDegS: cfg.TurnStartRateDegS,
			EndRateDegS:   cfg.TurnEndRateDegS,
			EndDurationS:  cfg.TurnEndDurationS,
			AngleDeg:      cfg.TurnAngleDeg,
			SmoothWindow:  cfg.TurnSmoothWindow,
		},
		FixedOffsetS: gpsTimeOffset,
		SweepEnabled: false,
	}

	// The primary replay runs at the single offset the caller supplied
	// (the reproducibility invariant holds against this one run).
	primary, err := pipeline.RunOffline(txtPath, opt)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	writeArtifacts(cfg.OutputDir, primary[0])

	// The time-delay diagnostic sweeps the configured offset range
	// independently; of each swept run only the correction log is used
	// (by RecoverOffset) — it never overwrites the primary artifacts above.
	sweepOpt := opt
	sweepOpt.SweepEnabled = true
	sweepOpt.OffsetSweepMinS = cfg.OffsetSweepMinS
	sweepOpt.OffsetSweepMaxS = cfg.OffsetSweepMaxS
	sweepOpt.OffsetSweepStepS = cfg.OffsetSweepStepS

	sweepRuns, err := pipeline.RunOffline(txtPath, sweepOpt)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	bestOffset, summary := pipeline.RecoverOffset(sweepRuns)
	path := filepath.Join(cfg.OutputDir, "offset_recovery.txt")
	if err := pipeline.WriteOffsetRecovery(path, summary, bestOffset); err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	log.Printf("recovered GNSS-to-IMU offset: %.9f s", bestOffset)
}

func writeArtifacts(outDir string, run pipeline.OffsetRun) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("pipeline: output dir: %v", err)
	}
	if err := pipeline.WriteTrajectory(filepath.Join(outDir, "trajectory.txt"), run.Trajectory); err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	if err := pipeline.WriteCovariance(filepath.Join(outDir, "covariance.txt"), run.Covariances); err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	if err := pipeline.WriteCorrections(filepath.Join(outDir, "corrections.txt"), run.Corrections); err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	if err := pipeline.WriteLateral(filepath.Join(outDir, "lateral.txt"), run.Lateral); err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	if len(run.TurnSegs) > 0 {
		if err := pipeline.WriteTurnSegments(filepath.Join(outDir, "turn_segments.csv"), run.TurnSegs); err != nil {
			log.Fatalf("pipeline: %v", err)
		}
	}
}

func runRealtime(mqttBroker, monitorAddr string, cfg *config.Config, eskfOpt eskf.Options, coordOpt coord.Options) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	q := events.NewQueueWithCapacity(cfg.RealtimeQueueDepth)
	adapter := coord.New(coordOpt)
	epoch := time.Now()

	var sink pipeline.PoseSink

	if mqttBroker != "" {
		src := &mqttstream.Source{
			Broker: mqttBroker, ClientID: cfg.MQTTClientID,
			TopicIMU: cfg.MQTTTopicIMU, TopicGNSS: cfg.MQTTTopicGNSS, TopicPose: cfg.MQTTTopicPose,
			Coord: adapter, Epoch: epoch,
		}
		go func() {
			if err := src.Run(q); err != nil {
				log.Fatalf("mqttstream: %v", err)
			}
		}()
		go func() { <-ctx.Done(); src.Close() }()
		sink = src
	} else {
		gps := &nmeastream.Source{
			PortName: cfg.GPSSerialPort, BaudRate: uint(cfg.GPSBaudRate),
			Coord: adapter, Epoch: epoch,
		}
		go func() {
			if err := gps.RunContext(ctx, q); err != nil {
				log.Fatalf("nmeastream: %v", err)
			}
		}()

		hw := &imuhw.Source{
			SPIDevice: cfg.IMUSPIDevice, CSPin: cfg.IMUCSPin,
			AccelRange: cfg.IMUAccelRange, GyroRange: cfg.IMUGyroRange,
			SampleRateHz: cfg.IMUSampleRateHz, Epoch: epoch,
		}
		if err := hw.Open(); err != nil {
			log.Fatalf("imuhw: %v", err)
		}
		go func() {
			if err := hw.Run(q); err != nil {
				log.Fatalf("imuhw: %v", err)
			}
		}()
	}

	snapshot := &pipeline.PoseSnapshot{}

	if monitorAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/pose", livemonitor.HandlePoseWS(snapshot))
		server := &http.Server{Addr: monitorAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("livemonitor: %v", err)
			}
		}()
		go func() { <-ctx.Done(); server.Close() }()
	}

	opt := pipeline.Options{ESKF: eskfOpt, Coord: coordOpt, RealtimeStaleGnssMaxS: cfg.RealtimeStaleGnssMaxAge}
	if err := pipeline.RunRealtime(ctx, q, opt, snapshot, sink); err != nil {
		log.Fatalf("pipeline: %v", err)
	}
}
