package stationstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/edgeflare/stationstream/pkg/pipeline/cdc"
	"github.com/edgeflare/stationstream/pkg/serde"
	"github.com/edgeflare/stationstream/pkg/station"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var publishCmd = &cobra.Command{
	Use:   "publish [file]",
	Short: "Publish station rows from a JSON lines file to the inbound topic",
	Long: `Reads one station row per line (stdin if no file or "-") and publishes it to
the inbound topic keyed by station_id. JSON rows are wrapped in a change
envelope as the upstream connector would; Avro rows are sent flat.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	producer, err := a.inboundProducer(cmd.Context())
	if err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
		sent   int
	)
	source := cdc.NewSourceBuilder("postgresql", "psql").WithSchema("public").WithTable("stations")

	scanner := bufio.NewScanner(in)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var st station.Station
		if err := json.Unmarshal(scanner.Bytes(), &st); err != nil {
			producer.Close()
			return fmt.Errorf("line %d: %w", line, err)
		}

		value, err := publishValue(st, source, producer.TimeMillis())
		if err != nil {
			producer.Close()
			return fmt.Errorf("line %d: %w", line, err)
		}

		wg.Add(1)
		producer.PublishAsync(st.StationID, value, func(err error) {
			defer wg.Done()
			if err != nil {
				failed.Add(1)
				logger.Warn("publish failed", zap.Int("station_id", st.StationID), zap.Error(err))
			}
		})
		sent++
	}
	scanErr := scanner.Err()

	producer.Close()
	wg.Wait()

	if scanErr != nil {
		return scanErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d of %d stations to %s\n", sent-int(failed.Load()), sent, producer.Topic())
	if failed.Load() > 0 {
		return fmt.Errorf("%d stations failed to publish", failed.Load())
	}
	return nil
}

// publishValue is the record value for st in the configured format.
func publishValue(st station.Station, source *cdc.SourceBuilder, tsMs int64) (any, error) {
	if cfg.Stream.Format == serde.FormatAvro {
		return st, nil
	}

	var row map[string]any
	if err := mapstructure.Decode(st, &row); err != nil {
		return nil, err
	}
	return cdc.NewEventBuilder().
		WithSource(source.WithTimestamp(tsMs).Build()).
		WithOperation(cdc.OpCreate).
		WithAfter(row).
		WithTimestamp(tsMs).
		Build(), nil
}
