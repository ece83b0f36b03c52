package main

import (
	"bufio"
	"flag"
	"math/rand"
	"os"
	"time"

	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/tracegen"
)

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	packetCount := flag.Int("c", 1000, "Number of packets to generate")
	flowCount := flag.Int("f", 50, "Number of distinct flows")
	step := flag.Duration("step", 10*time.Millisecond, "Time between consecutive packets")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create output file")
	}
	defer f.Close()

	logging.Init(logging.Config{Format: "console"})
	logging.Info().Int("packets", *packetCount).Int("flows", *flowCount).Str("file", *outputFile).Msg("generating trace")

	rng := rand.New(rand.NewSource(*seed))
	frames := tracegen.Random(rng, *packetCount, *flowCount, time.Now(), *step)

	w := bufio.NewWriter(f)
	if err := tracegen.WritePcap(w, frames); err != nil {
		logging.Fatal().Err(err).Msg("failed to write trace")
	}
	if err := w.Flush(); err != nil {
		logging.Fatal().Err(err).Msg("failed to flush trace")
	}

	logging.Info().Int("packets", *packetCount).Str("file", *outputFile).Msg("trace written")
}
