package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EchoCog/katocore/internal/kb"
	"github.com/EchoCog/katocore/internal/pattern"
	"github.com/EchoCog/katocore/internal/processor"
	"github.com/EchoCog/katocore/internal/session"
	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/symbol"
	"github.com/EchoCog/katocore/server"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the katod HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			backends, err := storage.Shared(storage.NewInMemoryBackends)
			if err != nil {
				return fmt.Errorf("initialize storage: %w", err)
			}

			symbols := symbol.New(backends.KV, backends.Vectors)
			patterns := pattern.New(backends.Columnar, backends.KV, symbols)
			sessions := session.New(backends.KV)
			kbs := kb.New(backends.KV)

			proc := processor.New(sessions, patterns, symbols, kbs)
			srv := server.New(proc)

			fmt.Printf("katod listening on :%d\n", port)
			return srv.Run(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port")
	return cmd
}
