package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"CascadeDetServer/logger"

	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "cascadedet",
	Short:   "Two-stage cascade detection server",
	Version: Version,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the server and cascade config")
	rootCmd.AddCommand(serveCmd, predictCmd)
}

// GetOutboundIP returns the local address used for outbound traffic.
// Dialing UDP sends no packet; it only resolves the route.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
