// Poolbench drives a block pool with concurrent allocate/register/match
// /release churn and reports hit rates and eviction pressure. It is meant for
// soak-testing pool behaviour, not for benchmarking raw storage.
package main

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/outofforest/blockpool/backend/memback"
	"github.com/outofforest/blockpool/blocks"
	"github.com/outofforest/blockpool/events"
	"github.com/outofforest/blockpool/evict"
	"github.com/outofforest/blockpool/pkg/memdev"
	"github.com/outofforest/blockpool/pool"
)

type benchConfig struct {
	Blocks         int
	TokensPerBlock int
	Layers         int
	HiddenDim      int
	ElementSize    int
	Workers        int
	Ops            int
	Sequences      int
	Policy         string
	Verbose        bool
}

func main() {
	cfg := benchConfig{}

	cmd := &cobra.Command{
		Use:   "poolbench",
		Short: "Soak-tests a block pool under concurrent cache churn",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	addFlags(cmd.Flags(), &cfg)

	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("poolbench failed")
	}
}

func addFlags(flags *pflag.FlagSet, cfg *benchConfig) {
	flags.IntVar(&cfg.Blocks, "blocks", 256, "number of blocks in the pool")
	flags.IntVar(&cfg.TokensPerBlock, "tokens-per-block", 16, "token positions per block")
	flags.IntVar(&cfg.Layers, "layers", 8, "transformer layers per block")
	flags.IntVar(&cfg.HiddenDim, "hidden-dim", 128, "hidden dimension")
	flags.IntVar(&cfg.ElementSize, "element-size", 2, "byte width of one cache element")
	flags.IntVar(&cfg.Workers, "workers", 8, "concurrent workers")
	flags.IntVar(&cfg.Ops, "ops", 1000, "operations per worker")
	flags.IntVar(&cfg.Sequences, "sequences", 64, "distinct token sequences generating the workload")
	flags.StringVar(&cfg.Policy, "policy", "recency", "eviction policy: recency, score or tier")
	flags.BoolVar(&cfg.Verbose, "verbose", false, "log every lifecycle notification")
}

func run(cfg benchConfig) error {
	runID := uuid.New()
	log := logrus.WithField("run", runID)
	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	geometry := blocks.Geometry{
		Layers:         cfg.Layers,
		TokensPerBlock: cfg.TokensPerBlock,
		HiddenDim:      cfg.HiddenDim,
		ElementSize:    cfg.ElementSize,
	}
	if err := geometry.Validate(); err != nil {
		return err
	}

	policy, err := newPolicy(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := events.NewMetricsObserver(reg)
	if err != nil {
		return err
	}

	dev := memdev.New(int64(cfg.Blocks) * geometry.BlockBytes())
	p, err := pool.New(pool.Config{
		Backend:  memback.New(blocks.HostTier, dev),
		Blocks:   cfg.Blocks,
		Geometry: geometry,
		Policy:   policy,
		Observer: events.Multi{metrics, events.NewLogObserver(log)},
	})
	if err != nil {
		return err
	}
	defer p.Close()

	log.WithFields(logrus.Fields{
		"blocks":     cfg.Blocks,
		"blockBytes": geometry.BlockBytes(),
		"workers":    cfg.Workers,
		"policy":     cfg.Policy,
	}).Info("starting workload")

	started := time.Now()
	var g errgroup.Group
	for w := 0; w < cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			return worker(p, geometry, cfg, rand.New(rand.NewSource(int64(w))))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"elapsed":   time.Since(started),
		"available": p.AvailableBlocks(),
		"total":     p.TotalBlocks(),
	}).Info("workload finished")
	return report(log, reg)
}

func newPolicy(cfg benchConfig) (evict.Policy, error) {
	switch cfg.Policy {
	case "recency":
		return evict.NewRecency(cfg.Blocks)
	case "score":
		return evict.NewScore(), nil
	case "tier":
		return evict.NewTierAware(cfg.Blocks)
	default:
		return nil, errors.Errorf("unknown eviction policy: %s", cfg.Policy)
	}
}

// worker replays prefixes of a small set of shared token sequences: match the
// cached prefix first, then allocate, fill and register the missing tail.
func worker(p *pool.Pool, geometry blocks.Geometry, cfg benchConfig, rng *rand.Rand) error {
	for op := 0; op < cfg.Ops; op++ {
		seq := rng.Intn(cfg.Sequences)
		depth := 1 + rng.Intn(4)

		fps := make([]blocks.Fingerprint, 0, depth)
		var parent blocks.Fingerprint
		for i := 0; i < depth; i++ {
			parent = blocks.ChainFingerprint(parent, uint64(seq), sequenceTokens(geometry, seq, i))
			fps = append(fps, parent)
		}

		matched, err := p.Match(fps)
		if err != nil {
			return err
		}

		held := matched
		for i := len(matched); i < depth; i++ {
			handles, err := p.Allocate(1)
			if err != nil {
				// The pool is fully referenced, drop what we hold and move on.
				break
			}

			var prev blocks.Fingerprint
			if i > 0 {
				prev = fps[i-1]
			}
			if err := handles[0].Fill(prev, uint64(seq), sequenceTokens(geometry, seq, i)); err != nil {
				return err
			}
			shareds, err := p.Register(handles)
			if err != nil {
				return err
			}
			held = append(held, shareds...)
		}

		for _, h := range held {
			if err := h.Release(); err != nil {
				return err
			}
		}
	}
	return nil
}

func sequenceTokens(geometry blocks.Geometry, seq, block int) []blocks.TokenID {
	ts := make([]blocks.TokenID, geometry.TokensPerBlock)
	for i := range ts {
		ts[i] = blocks.TokenID(seq*1_000_000 + block*geometry.TokensPerBlock + i)
	}
	return ts
}

func report(log *logrus.Entry, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		log.WithField("value", total).Info(mf.GetName())
	}
	return nil
}
