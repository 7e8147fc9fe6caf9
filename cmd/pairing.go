package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/openclaw/internal/config"
	"github.com/nextlevelbuilder/openclaw/internal/pairing"
	"github.com/nextlevelbuilder/openclaw/internal/store"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing requests and allowlists",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func openPairingStore() (*pairing.Store, error) {
	dataDir := os.Getenv("GOCLAW_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.goclaw/data")
	}
	return pairing.New(filepath.Join(dataDir, "pairing.json"))
}

func pairingListCmd() *cobra.Command {
	var channel string
	c := &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		Run: func(cmd *cobra.Command, args []string) {
			ps, err := openPairingStore()
			if err != nil {
				fmt.Fprintf(os.Stderr, "pairing list: %s\n", err)
				os.Exit(1)
			}
			var requests []store.PairingRequest
			for _, r := range ps.ListRequests(channel) {
				if r.Status == store.PairingPending {
					requests = append(requests, r)
				}
			}
			sort.Slice(requests, func(i, j int) bool {
				return requests[i].RequestedAt.Before(requests[j].RequestedAt)
			})
			if len(requests) == 0 {
				fmt.Println("no pending pairing requests")
				return
			}
			for _, r := range requests {
				fmt.Printf("%-10s %-12s %-20s %s\n", r.Code, r.Channel, r.SenderID, r.Status)
			}
		},
	}
	c.Flags().StringVar(&channel, "channel", "", "filter by channel")
	return c
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing code and add its sender to the allowlist",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ps, err := openPairingStore()
			if err != nil {
				fmt.Fprintf(os.Stderr, "pairing approve: %s\n", err)
				os.Exit(1)
			}
			req, err := ps.ApproveCode(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "pairing approve: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("approved %s on %s\n", req.SenderID, req.Channel)
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	var channel string
	c := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Remove an identity from a channel's allowlist",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if channel == "" {
				fmt.Fprintln(os.Stderr, "pairing revoke: --channel is required")
				os.Exit(1)
			}
			ps, err := openPairingStore()
			if err != nil {
				fmt.Fprintf(os.Stderr, "pairing revoke: %s\n", err)
				os.Exit(1)
			}
			if err := ps.RemoveAllowFromEntry(channel, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "pairing revoke: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("revoked %s from %s\n", args[0], channel)
		},
	}
	c.Flags().StringVar(&channel, "channel", "", "channel the identity is allowed on")
	return c
}
