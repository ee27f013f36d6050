package main

import (
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/datapilot"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API with health and metrics endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSystem(cmd.Context(), func(sys *datapilot.System) error {
			srv, err := sys.API()
			if err != nil {
				return err
			}
			addr := listenAddr
			if addr == "" {
				addr = sys.Config.API.Addr
			}
			return srv.ListenAndServe(cmd.Context(), addr)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (default from api.addr)")
}
