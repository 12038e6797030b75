package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/novatel-oem/oem-transcode/filter"
	"github.com/novatel-oem/oem-transcode/internal/config"
	"github.com/novatel-oem/oem-transcode/internal/logging"
	"github.com/novatel-oem/oem-transcode/internal/utils"
	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/novatel-oem/oem-transcode/pipeline"
	"github.com/novatel-oem/oem-transcode/schema"
)

func main() {
	configPath := flag.String("config", "", "path to oemtranscode.yaml config file")
	schemaPath := flag.String("schema", "", "path to message definition JSON database (overrides config)")
	device := flag.String("device", "", "serial device, file path, or \"-\" for stdin (overrides config)")
	isFile := flag.Bool("is-file", false, "treat device as an ordinary file")
	baudRate := flag.Int("baud", 0, "device baud rate (overrides config)")
	target := flag.String("target", "", "re-encode target: ascii, binary, flattened-binary, json (overrides config)")
	includeNMEA := flag.Bool("include-nmea", false, "include NMEA sentences in output")
	idFilter := flag.String("filter-ids", "", "comma separated list of message IDs to include")
	decompressRangeCmp := flag.Bool("decompress-rangecmp", false, "rewrite RANGECMP messages to RANGE before encoding")
	returnUnknownBytes := flag.Bool("return-unknown-bytes", false, "surface unrecognized byte runs instead of discarding them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, *schemaPath, *device, *baudRate, *target, *isFile, *includeNMEA, *decompressRangeCmp, *returnUnknownBytes)

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := loadSchema(cfg.SchemaPath)
	if err != nil {
		logger.Fatal("load schema", zap.Error(err))
	}
	logger.Info("loaded message definitions", zap.String("path", cfg.SchemaPath))

	targetFormat, err := parseTargetFormat(cfg.Output.Target)
	if err != nil {
		logger.Fatal("parse output target", zap.Error(err))
	}

	ids, err := parseIDFilter(*idFilter)
	if err != nil {
		logger.Fatal("parse filter-ids", zap.Error(err))
	}
	ids = append(ids, cfg.Output.IDs...)

	f := buildFilter(cfg, ids)

	p, err := pipeline.New(db, targetFormat,
		pipeline.WithFilter(f),
		pipeline.WithDecompressRangeCmp(cfg.Output.DecompressRangeCmp),
		pipeline.WithReturnUnknownBytes(cfg.Output.ReturnUnknownBytes),
	)
	if err != nil {
		logger.Fatal("build pipeline", zap.Error(err))
	}

	reader, err := openSource(cfg)
	if err != nil {
		logger.Fatal("open device", zap.Error(err))
	}
	defer reader.Close()

	logger.Info("reading device", zap.String("device", cfg.Device))
	run(ctx, logger, p, reader)
}

func applyFlagOverrides(cfg *config.Config, schemaPath, device string, baudRate int, target string, isFile, includeNMEA, decompressRangeCmp, returnUnknownBytes bool) {
	if schemaPath != "" {
		cfg.SchemaPath = schemaPath
	}
	if device != "" {
		cfg.Device = device
	}
	if baudRate != 0 {
		cfg.BaudRate = baudRate
	}
	if target != "" {
		cfg.Output.Target = target
	}
	if isFile {
		cfg.Input.IsFile = true
	}
	if includeNMEA {
		cfg.Output.IncludeNMEA = true
	}
	if decompressRangeCmp {
		cfg.Output.DecompressRangeCmp = true
	}
	if returnUnknownBytes {
		cfg.Output.ReturnUnknownBytes = true
	}
}

func loadSchema(path string) (*schema.MessageDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return schema.Parse(f)
}

func parseTargetFormat(target string) (pipeline.TargetFormat, error) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "ascii":
		return pipeline.TargetASCII, nil
	case "binary":
		return pipeline.TargetBinary, nil
	case "flattened-binary":
		return pipeline.TargetFlattenedBinary, nil
	case "json":
		return pipeline.TargetJSON, nil
	default:
		return pipeline.TargetUnspecified, fmt.Errorf("unknown output target %q", target)
	}
}

func parseIDFilter(raw string) ([]uint16, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []uint16
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid message id %q: %w", part, err)
		}
		ids = append(ids, uint16(n))
	}
	return ids, nil
}

// buildFilter installs an include-by-id list (applied across every wire
// format and measurement source the database knows) and the NMEA opt-in
// flag on a fresh filter, mirroring the pipeline's own default
// unconfigured filter otherwise.
func buildFilter(cfg *config.Config, ids []uint16) *filter.Filter {
	f := filter.New()
	f.IncludeNMEAMessages(cfg.Output.IncludeNMEA)
	for _, id := range ids {
		for _, src := range []oem.MeasurementSource{oem.SourceUnknown, oem.SourcePrimary, oem.SourceSecondary} {
			f.IncludeMessageId(uint32(id), filter.FormatAll, src)
		}
	}
	return f
}

// stdinReader wraps os.Stdin so it satisfies io.ReadWriteCloser the way
// the serial and file sources do, without allowing writes or a real close
// of the process's standard input.
type stdinReader struct{ *os.File }

func (stdinReader) Write(p []byte) (int, error) { return 0, errors.New("stdin source is read-only") }
func (stdinReader) Close() error                 { return nil }

func openSource(cfg *config.Config) (io.ReadWriteCloser, error) {
	switch {
	case cfg.Device == "-":
		return stdinReader{os.Stdin}, nil
	case cfg.Input.IsFile:
		return os.OpenFile(cfg.Device, os.O_RDONLY, 0)
	default:
		return serial.OpenPort(&serial.Config{
			Name:        cfg.Device,
			Baud:        cfg.BaudRate,
			ReadTimeout: 100 * time.Millisecond,
			Size:        8,
		})
	}
}

func run(ctx context.Context, logger *zap.Logger, p *pipeline.Pipeline, reader io.Reader) {
	buf := make([]byte, 4096)
	var msg oem.MessageData
	var md oem.Metadata

	msgCount := uint64(0)
	errorCount := uint64(0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", zap.Uint64("messages", msgCount))
			return
		default:
		}

		n, err := reader.Read(buf)
		if n > 0 {
			p.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				drainAll(p, &msg, &md, logger, &msgCount, &errorCount)
				logger.Info("end of input", zap.Uint64("messages", msgCount), zap.Uint64("errors", errorCount))
				return
			}
			logger.Error("read device", zap.Error(err))
			return
		}

		drainAvailable(p, &msg, &md, logger, &msgCount, &errorCount)
	}
}

func drainAvailable(p *pipeline.Pipeline, msg *oem.MessageData, md *oem.Metadata, logger *zap.Logger, msgCount, errorCount *uint64) {
	for {
		status := p.Read(msg, md)
		if !reportStatus(status, msg, md, logger, msgCount, errorCount) {
			return
		}
	}
}

func drainAll(p *pipeline.Pipeline, msg *oem.MessageData, md *oem.Metadata, logger *zap.Logger, msgCount, errorCount *uint64) {
	drainAvailable(p, msg, md, logger, msgCount, errorCount)
	p.Flush()
}

// reportStatus prints a decoded/re-encoded message to stdout and reports
// whether the caller should keep draining (true) or stop because the
// pipeline's incoming buffer is empty (false).
func reportStatus(status oem.Status, msg *oem.MessageData, md *oem.Metadata, logger *zap.Logger, msgCount, errorCount *uint64) bool {
	switch status {
	case oem.StatusBufferEmpty:
		return false
	case oem.StatusSuccess:
		*msgCount++
		fmt.Printf("%s\n", msg.Message())
		return true
	case oem.StatusUnknown:
		logger.Warn("unknown bytes", zap.Int("len", len(msg.Message())), zap.String("bytes", utils.FormatSpaces(msg.Message())))
		return true
	case oem.StatusNoDefinition:
		*errorCount++
		logger.Debug("no definition for message", zap.Uint16("id", md.MessageID), zap.String("name", md.MessageName))
		return true
	case oem.StatusMalformedInput:
		*errorCount++
		logger.Warn("malformed input")
		return true
	case oem.StatusDecompressionFailure:
		*errorCount++
		logger.Warn("rangecmp decompression failed", zap.String("name", md.MessageName))
		return true
	default:
		return true
	}
}
