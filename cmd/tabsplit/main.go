package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/client"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/split"
)

const requestTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	settings := viper.New()
	settings.SetEnvPrefix("TABSPLIT")
	settings.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:          "tabsplit",
		Short:        "Command line client for tabsplit sessions",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Session server base URL")
	rootCmd.PersistentFlags().String("keyring", defaultKeyringPath(), "File holding admin secrets for this device")
	if err := settings.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server")); err != nil {
		panic(err)
	}
	if err := settings.BindPFlag("keyring", rootCmd.PersistentFlags().Lookup("keyring")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newCreateCommand(settings),
		newVerifyCommand(settings),
		newShowCommand(settings),
	)
	return rootCmd
}

func newCreateCommand(settings *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "create PIN",
		Short: "Create a session guarded by a 4-6 digit admin PIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			sessionID, err := c.Create(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sessionID)
			return nil
		},
	}
}

func newVerifyCommand(settings *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify SESSION_ID PIN",
		Short: "Check an admin PIN and remember it on this device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := c.Join(ctx, args[0]); err != nil {
				return err
			}
			defer c.Close()
			if err := c.Elevate(ctx, args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "admin access granted")
			return nil
		},
	}
}

func newShowCommand(settings *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Print the items and what every guest owes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := c.Join(ctx, args[0]); err != nil {
				return err
			}
			defer c.Close()
			return printSummary(cmd.OutOrStdout(), c.Role(), c.Summary())
		},
	}
}

func newClient(settings *viper.Viper) (*client.Client, error) {
	api, err := client.NewAPI(settings.GetString("server"), nil)
	if err != nil {
		return nil, err
	}
	keyring, err := client.NewFileKeyring(settings.GetString("keyring"))
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{API: api, Keyring: keyring})
}

func printSummary(out io.Writer, role client.Role, summary split.Summary) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "role\t%s\n", role)
	fmt.Fprintf(writer, "subtotal\t%.2f\n", summary.Subtotal)
	fmt.Fprintf(writer, "tax\t%.2f\n", summary.Tax)
	fmt.Fprintf(writer, "tip\t%.2f\n", summary.Tip)
	fmt.Fprintf(writer, "total\t%.2f\n", summary.Total)
	if summary.UnassignedUnits > 0 {
		fmt.Fprintf(writer, "unassigned\t%.2f\t(%d units)\n", summary.UnassignedContribution, summary.UnassignedUnits)
	}
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "guest\tsubtotal\ttax\ttip\ttotal\tpaid\tremaining")
	for _, share := range summary.Guests {
		status := fmt.Sprintf("%.2f", share.Remaining)
		if share.Settled {
			status = "settled"
		}
		fmt.Fprintf(writer, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			share.Name, share.Subtotal, share.Tax, share.Tip, share.Total, share.Paid, status)
	}
	return writer.Flush()
}

func defaultKeyringPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".tabsplit-keyring.json"
	}
	return filepath.Join(dir, "tabsplit", "keyring.json")
}
