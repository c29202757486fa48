package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Keksclan/optionscache/rpc"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	serverAddr string
	timeout    time.Duration
)

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverAddr, "addr", "localhost:8080", "server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "call timeout")
}

// withClient dials the server, runs fn and prints its result as JSON.
func withClient(cmd *cobra.Command, fn func(*cobra.Command, *rpc.Client) (any, error)) error {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverAddr, err)
	}
	defer conn.Close()

	out, err := fn(cmd, rpc.NewClient(conn))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain TICKER",
		Short: "Print the options chain of a ticker with its delay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(cmd *cobra.Command, c *rpc.Client) (any, error) {
				ctx, cancel := contextWithTimeout(cmd)
				defer cancel()
				return c.GetOptionsChain(ctx, args[0])
			})
		},
	}
	addClientFlags(cmd)
	return cmd
}

func expirationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expirations TICKER",
		Short: "Print the cached expiration dates of a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(cmd *cobra.Command, c *rpc.Client) (any, error) {
				ctx, cancel := contextWithTimeout(cmd)
				defer cancel()
				return c.ListExpirations(ctx, args[0])
			})
		},
	}
	addClientFlags(cmd)
	return cmd
}

func priceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price TICKER",
		Short: "Print the underlying stock price recorded with the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(cmd *cobra.Command, c *rpc.Client) (any, error) {
				ctx, cancel := contextWithTimeout(cmd)
				defer cancel()
				return c.GetStockPrice(ctx, args[0])
			})
		},
	}
	addClientFlags(cmd)
	return cmd
}

func contextWithTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
