// Command lockctl is the operator CLI for lockring: acquire, release,
// and inspect locks against a running cluster node.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/lockring/pkg/client"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lockctl",
	Short: "lockctl manages locks on a lockring cluster",
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockCheckCmd)

	for _, cmd := range []*cobra.Command{lockAcquireCmd, lockReleaseCmd, lockCheckCmd} {
		cmd.Flags().String("node", "127.0.0.1:8080", "Lock manager gRPC address")
	}

	lockAcquireCmd.Flags().String("client-id", "", "Requesting client ID (required)")
	lockAcquireCmd.Flags().Duration("timeout", 30*time.Second, "Lease duration if the lock is acquired")
	lockAcquireCmd.MarkFlagRequired("client-id")

	lockReleaseCmd.Flags().String("client-id", "", "Releasing client ID (required)")
	lockReleaseCmd.Flags().Uint64("token", 0, "Fencing token returned by acquire (required)")
	lockReleaseCmd.MarkFlagRequired("client-id")
	lockReleaseCmd.MarkFlagRequired("token")
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Acquire, release, and inspect locks",
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire LOCK_ID",
	Short: "Acquire a lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lockID := args[0]
		node, _ := cmd.Flags().GetString("node")
		clientID, _ := cmd.Flags().GetString("client-id")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		c, err := client.NewClient(node)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", node, err)
		}
		defer c.Close()

		resp, err := c.AcquireLock(lockID, clientID, timeout)
		if err != nil {
			return fmt.Errorf("acquire: %w", err)
		}

		if resp.Status != "OK" {
			fmt.Printf("not acquired: %s", resp.Status)
			if resp.LeaderHint != "" {
				fmt.Printf(" (leader: %s)", resp.LeaderHint)
			}
			fmt.Println()
			os.Exit(1)
		}

		fmt.Printf("acquired %s\n  token: %d\n  expires: %s\n", lockID, resp.Token, resp.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release LOCK_ID",
	Short: "Release a held lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lockID := args[0]
		node, _ := cmd.Flags().GetString("node")
		clientID, _ := cmd.Flags().GetString("client-id")
		token, _ := cmd.Flags().GetUint64("token")

		c, err := client.NewClient(node)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", node, err)
		}
		defer c.Close()

		resp, err := c.ReleaseLock(lockID, clientID, token)
		if err != nil {
			return fmt.Errorf("release: %w", err)
		}

		if resp.Status != "OK" {
			fmt.Printf("not released: %s", resp.Status)
			if resp.LeaderHint != "" {
				fmt.Printf(" (leader: %s)", resp.LeaderHint)
			}
			fmt.Println()
			os.Exit(1)
		}

		fmt.Printf("released %s\n", lockID)
		return nil
	},
}

var lockCheckCmd = &cobra.Command{
	Use:   "check LOCK_ID",
	Short: "Check a lock's current holder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lockID := args[0]
		node, _ := cmd.Flags().GetString("node")

		c, err := client.NewClient(node)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", node, err)
		}
		defer c.Close()

		resp, err := c.CheckLock(lockID)
		if err != nil {
			return fmt.Errorf("check: %w", err)
		}

		if !resp.Held {
			fmt.Printf("%s is not held\n", lockID)
			return nil
		}

		fmt.Printf("%s is held\n  client: %s\n  token: %d\n  expires: %s\n", lockID, resp.ClientID, resp.Token, resp.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}
