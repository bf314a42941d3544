package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/echoservice/internal/config"
	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/storage"
)

var (
	connConfigPath string
	connProvider   string
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conn"},
	Short:   "Manage the database-backed connection string store",
	Long: `Manage connection strings kept in the connection store (SQLite by default,
PostgreSQL when storage.driver is "postgres"). Stored entries are looked up
after the ones in the config file. Values may contain secret references such
as env://NAME or vault://secret/data/app#key; they are stored unexpanded.`,
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored connection strings (values redacted)",
	Args:  cobra.NoArgs,
	RunE:  runConnectionsList,
}

var connectionsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Create or replace a stored connection string",
	Args:  cobra.ExactArgs(2),
	RunE:  runConnectionsSet,
}

var connectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored connection string",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectionsDelete,
}

func init() {
	connectionsCmd.PersistentFlags().StringVar(&connConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	connectionsSetCmd.Flags().StringVar(&connProvider, "provider", "", `provider name, e.g. "postgres" or "cosmos"`)

	connectionsCmd.AddCommand(connectionsListCmd)
	connectionsCmd.AddCommand(connectionsSetCmd)
	connectionsCmd.AddCommand(connectionsDeleteCmd)
}

// withStore opens the connection store for one command.
func withStore(fn func(ctx context.Context, conns storage.ConnectionStringStore) error) error {
	cfg, err := loadConfig(connConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr)

	store, err := initStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening connection store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing connection store", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, store.ConnectionStrings())
}

func runConnectionsList(cmd *cobra.Command, _ []string) error {
	return withStore(func(ctx context.Context, conns storage.ConnectionStringStore) error {
		list, err := conns.List(ctx)
		if err != nil {
			return fmt.Errorf("listing connection strings: %w", err)
		}
		return printConnections(cmd.OutOrStdout(), list)
	})
}

func printConnections(w io.Writer, list []storage.ConnectionString) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tVALUE\tUPDATED")
	for _, cs := range list {
		provider := cs.Provider
		if provider == "" {
			provider = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			cs.Name, provider, connection.RedactValue(cs.Value), cs.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runConnectionsSet(cmd *cobra.Command, args []string) error {
	name, value := strings.TrimSpace(args[0]), args[1]
	if name == "" {
		return errors.New("name must not be empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("value must not be empty")
	}
	return withStore(func(ctx context.Context, conns storage.ConnectionStringStore) error {
		if err := conns.Put(ctx, &storage.ConnectionString{Name: name, Value: value, Provider: connProvider}); err != nil {
			return fmt.Errorf("storing connection string %q: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "connection string %q saved\n", name)
		return nil
	})
}

func runConnectionsDelete(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	return withStore(func(ctx context.Context, conns storage.ConnectionStringStore) error {
		err := conns.Delete(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("connection string %q not found", name)
		}
		if err != nil {
			return fmt.Errorf("deleting connection string %q: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "connection string %q deleted\n", name)
		return nil
	})
}
