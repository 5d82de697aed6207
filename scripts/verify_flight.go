//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:3000"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Quiver Flight Server")

	c, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create flight client")
	}
	defer c.Close()

	texts := []string{
		"Hello world",
		"Apache Arrow Flight is fast",
		"Subword pieces are useful",
	}

	// The server may still be starting.
	var ids [][]int
	start := time.Now()
	for i := 0; i < 10; i++ {
		ids, err = c.Tokenize(context.Background(), texts)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Tokenize failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to tokenize after retries")
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("Received token ids")

	if len(ids) != len(texts) {
		log.Fatal().Int("expected", len(texts)).Int("got", len(ids)).Msg("Count mismatch")
	}

	for i, seq := range ids {
		if len(seq) < 2 {
			log.Fatal().Int("index", i).Ints("ids", seq).Msg("Sequence is missing its start and end tokens")
		}
		log.Info().Int("index", i).Int("tokens", len(seq)).Msg("Sequence valid")
	}

	fmt.Println("VERIFICATION PASSED")
}
