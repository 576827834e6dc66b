package stationstream

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/edgeflare/stationstream/pkg/metrics"
	"github.com/edgeflare/stationstream/pkg/rest"
	"github.com/edgeflare/stationstream/pkg/stream"
	"github.com/edgeflare/stationstream/pkg/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tableName = "stations"

var streamCmd = &cobra.Command{
	Use:     "stream",
	Aliases: []string{"run"},
	Short:   "Run the station stream processor",
	Long: `Consumes the inbound station topic, transforms each station and upserts it
into the table, publishing every change to the changelog topic. The table is
served over HTTP and rebuilt from the changelog on start.`,
	RunE: runStream,
}

func init() {
	f := streamCmd.Flags()
	f.String("group-id", "", "consumer group id")
	f.String("store", "", "table store (memory, redis, postgres)")
	f.String("api-addr", "", "query API listen address")
	f.String("metrics-addr", "", "Prometheus metrics listen address")
	f.Bool("no-recover", false, "skip rebuilding the table from the changelog on start")

	bindFlags(streamCmd, map[string]string{
		"stream.groupID": "group-id",
		"table.store":    "store",
		"api.listenAddr": "api-addr",
		"metrics.addr":   "metrics-addr",
	})
}

func runStream(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if noRecover, _ := cmd.Flags().GetBool("no-recover"); noRecover {
		cfg.Stream.RecoverOnStart = false
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	if err := a.topics.Ensure(ctx, a.inboundTopic()); err != nil {
		a.Close()
		return err
	}
	producer, err := a.changelogProducer(ctx)
	if err != nil {
		a.Close()
		return err
	}

	store, err := table.Open(ctx, cfg.Table)
	if err != nil {
		producer.Close()
		a.Close()
		return err
	}
	tbl := table.New(tableName, store,
		table.WithLogger(logger),
		table.WithChangelog(producer))

	de, err := a.deserializer()
	if err != nil {
		tbl.Close()
		producer.Close()
		a.Close()
		return err
	}

	group, err := a.client.NewConsumerGroup(cfg.Stream.GroupID)
	if err != nil {
		tbl.Close()
		producer.Close()
		a.Close()
		return err
	}

	opts := []stream.Option{
		stream.WithLogger(logger),
		// producer before table: pending changelog sends settle before the store closes
		stream.WithReleases(producer, tbl, a),
	}
	if cfg.Stream.RecoverOnStart {
		opts = append(opts, stream.WithRecovery(func(ctx context.Context) error {
			_, err := a.rebuild(ctx, tbl)
			return err
		}))
	}
	proc := stream.New(cfg.Stream, group, tbl, de, opts...)

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Logger: logger,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return proc.Run(gctx)
	})
	if cfg.API.Enabled {
		srv := rest.NewServer(tbl,
			rest.WithLogger(logger),
			rest.WithStatus(proc),
			rest.WithCORS(&cfg.API.CORS))
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.API.ListenAddr)
		})
	}

	err = g.Wait()
	stop()
	wg.Wait()

	if err != nil {
		logger.Error("stream stopped", zap.Stringer("state", proc.State()), zap.Error(err))
		return err
	}
	logger.Info("stream stopped", zap.Stringer("state", proc.State()))
	return nil
}
