// Command n2kgw is an NMEA 2000 gateway: it ingests raw CAN traffic from a
// SocketCAN interface or an Actisense NGT-1/W2K-1 serial gateway, decodes
// it against a PGN catalog, and serves the current boat state over three
// channels at once: an NMEA 0183 TCP broadcast, a JSON TCP broadcast, and
// a rotating CSV log, plus a periodic stdout dump for local debugging.
//
// With no positional arguments it reads live CAN traffic until
// interrupted. With one or more arguments, each is treated as a captured
// text log file and replayed through the same decode pipeline instead.
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/nmeagw/n2kgw"
	"github.com/nmeagw/n2kgw/broadcast"
	"github.com/nmeagw/n2kgw/cache"
	"github.com/nmeagw/n2kgw/catalog"
	"github.com/nmeagw/n2kgw/csvlog"
	"github.com/nmeagw/n2kgw/jsonout"
	"github.com/nmeagw/n2kgw/logreplay"
	"github.com/nmeagw/n2kgw/nmea0183"
	"github.com/nmeagw/n2kgw/printer"
	"github.com/nmeagw/n2kgw/transport/actisense"
	"github.com/nmeagw/n2kgw/transport/cansocket"
)

//go:embed pgns.json
var defaultCatalogFS embed.FS

func main() {
	pgnsPath := flag.String("pgns", "", "path to a PGN catalog JSON file (defaults to the embedded catalog)")
	canInterface := flag.String("can", "can0", "SocketCAN interface name for live capture")
	actisenseDevice := flag.String("actisense", "", "serial device path for an Actisense NGT-1/W2K-1 gateway; overrides -can")
	baudRate := flag.Int("baud", 115200, "Actisense serial baud rate")
	logFormat := flag.String("log-format", "candump", "log replay format for positional file arguments: candump or raymarine")
	nmea0183Port := flag.String("nmea0183-port", ":10110", "NMEA 0183 broadcast listen address")
	jsonPort := flag.String("json-port", ":10111", "JSON broadcast listen address")
	csvDir := flag.String("csv-dir", "saildata", "directory for rotating CSV logs")
	sampleInterval := flag.Duration("sample-interval", time.Second, "how often the CSV log and the debug printer sample the current state")
	quiet := flag.Bool("quiet", false, "disable the periodic stdout state dump")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("n2kgw: failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cat, err := loadCatalog(*pgnsPath)
	if err != nil {
		sugar.Fatalw("failed to load PGN catalog", "err", err)
	}
	sugar.Infow("loaded PGN catalog", "pgns", cat.Len())

	stateCache := cache.New(cat, cache.DefaultBindings)
	jsonEncoder := jsonout.New()
	nmeaEncoder := nmea0183.New(stateCache)

	reader := n2k.NewReader(cat, sugar, stateCache, jsonEncoder)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	nmeaServer := broadcast.New(broadcast.Config{
		Port:     *nmea0183Port,
		Interval: time.Second,
		Produce:  nmeaEncoder.Produce,
		OnConnectChange: func(count int) {
			sugar.Infow("nmea0183 client count changed", "count", count)
		},
	}, sugar)
	jsonServer := broadcast.New(broadcast.Config{
		Port:     *jsonPort,
		Interval: 500 * time.Millisecond,
		Produce:  jsonEncoder.Produce,
		OnConnectChange: func(count int) {
			sugar.Infow("json client count changed", "count", count)
		},
	}, sugar)

	go runBroadcastServer(nmeaServer, "nmea0183", sugar)
	go runBroadcastServer(jsonServer, "json", sugar)
	defer nmeaServer.Close()
	defer jsonServer.Close()

	csvLogger := csvlog.New(*csvDir, stateCache)
	defer csvLogger.Close()
	broadcast.NewRepeatTimer(*sampleInterval, func() {
		if err := csvLogger.Sample(); err != nil {
			sugar.Errorw("csv sample failed", "err", err)
		}
	})

	if !*quiet {
		statePrinter := printer.New(os.Stdout, stateCache)
		broadcast.NewRepeatTimer(*sampleInterval, statePrinter.Print)
	}

	args := flag.Args()
	if len(args) == 0 {
		runLive(ctx, reader, *actisenseDevice, *canInterface, *baudRate, sugar)
		return
	}
	for _, path := range args {
		if err := replayFile(reader, path, *logFormat); err != nil {
			sugar.Errorw("log replay failed", "path", path, "err", err)
		}
	}
}

func runBroadcastServer(s *broadcast.Server, name string, sugar *zap.SugaredLogger) {
	if err := s.Run(); err != nil {
		sugar.Errorw("broadcast server stopped", "server", name, "err", err)
	}
}

// runLive drives the ingestion pipeline from a live transport until ctx is
// cancelled. An Actisense serial gateway is used when actisenseDevice is
// set; otherwise a SocketCAN interface is opened directly.
func runLive(ctx context.Context, reader *n2k.Reader, actisenseDevice, canInterface string, baudRate int, sugar *zap.SugaredLogger) {
	if actisenseDevice != "" {
		runActisense(ctx, reader, actisenseDevice, baudRate, sugar)
		return
	}
	runSocketCAN(ctx, reader, canInterface, sugar)
}

func runActisense(ctx context.Context, reader *n2k.Reader, devicePath string, baudRate int, sugar *zap.SugaredLogger) {
	port, err := serial.OpenPort(&serial.Config{
		Name: devicePath,
		Baud: baudRate,
		// ReadTimeout is the duration a Read call is allowed to block; the
		// gateway itself has a separate, longer no-traffic timeout.
		ReadTimeout: 100 * time.Millisecond,
		Size:        8,
	})
	if err != nil {
		sugar.Fatalw("failed to open Actisense serial port", "device", devicePath, "err", err)
	}
	defer port.Close()

	dev := actisense.NewDevice(port, actisense.Config{ReceiveDataTimeout: 5 * time.Second})
	if err := dev.Initialize(); err != nil {
		sugar.Fatalw("failed to initialize Actisense device", "err", err)
	}
	sugar.Infow("reading live Actisense traffic", "device", devicePath)

	for {
		msg, err := dev.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			sugar.Errorw("actisense read failed", "err", err)
			continue
		}

		if msg.AlreadyAssembled {
			if err := reader.FeedAssembled(msg.ID, msg.Payload); err != nil {
				sugar.Errorw("decode failed", "pgn", msg.ID.PGN, "err", err)
			}
			continue
		}
		if err := reader.Feed(n2k.CANFrame{ID: msg.ID, Payload: msg.Payload}); err != nil {
			sugar.Errorw("decode failed", "pgn", msg.ID.PGN, "err", err)
		}
	}
}

func runSocketCAN(ctx context.Context, reader *n2k.Reader, ifName string, sugar *zap.SugaredLogger) {
	dev := cansocket.NewDevice(cansocket.Config{InterfaceName: ifName})
	if err := dev.Open(); err != nil {
		sugar.Fatalw("failed to open SocketCAN interface", "interface", ifName, "err", err)
	}
	defer dev.Close()
	sugar.Infow("reading live CAN traffic", "interface", ifName)

	for {
		frame, err := dev.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			sugar.Errorw("can read failed", "err", err)
			continue
		}
		if err := reader.Feed(frame); err != nil {
			sugar.Errorw("decode failed", "pgn", frame.ID.PGN, "err", err)
		}
	}
}

// replayFile feeds every frame of a captured text log through reader.
func replayFile(reader *n2k.Reader, path, format string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("n2kgw: failed to open log file: %w", err)
	}
	defer f.Close()

	var dev *logreplay.Device
	switch format {
	case "raymarine":
		dev = logreplay.NewRaymarineDevice(f)
	default:
		dev = logreplay.NewCandumpDevice(f)
	}

	for {
		frame, err := dev.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := reader.Feed(frame); err != nil {
			return err
		}
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("n2kgw: failed to open PGN catalog file: %w", err)
		}
		defer f.Close()
		return catalog.Load(f)
	}
	return catalog.LoadFile(defaultCatalogFS, "pgns.json")
}
