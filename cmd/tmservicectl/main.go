// Command tmservicectl is a local administration CLI for tmserviced: roster,
// exclude list, and config mutations against the same files the daemon
// reads, with no HTTP round-trip required (spec.md §3/§4.1).
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmbackup/tmserviced/internal/config"
	"github.com/tmbackup/tmserviced/internal/roster"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tmservicectl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envPath string

	root := &cobra.Command{
		Use:   "tmservicectl",
		Short: "Administer tmserviced's roster, excludes, and config locally",
	}
	root.PersistentFlags().StringVar(&envPath, "env-file", envOrDefault("TMSERVICED_ENV_FILE", "/etc/tmserviced/tmserviced.env"), "Environment file tmserviced reads")

	root.AddCommand(newRosterCmd(&envPath))
	root.AddCommand(newExcludesCmd(&envPath))
	root.AddCommand(newConfigCmd(&envPath))
	return root
}

func loadConfig(envPath string) (*config.Config, error) {
	cfg, err := config.Load(envPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return cfg, nil
}

func newRosterCmd(envPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage the active server roster",
	}
	cmd.AddCommand(newRosterListCmd(envPath))
	cmd.AddCommand(newRosterAddCmd(envPath))
	cmd.AddCommand(newRosterUpdateCmd(envPath))
	cmd.AddCommand(newRosterRemoveCmd(envPath))
	cmd.AddCommand(newRosterArchiveCmd(envPath))
	cmd.AddCommand(newRosterUnarchiveCmd(envPath))
	return cmd
}

func newRosterListCmd(envPath *string) *cobra.Command {
	var archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roster entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			path := cfg.RosterPath
			if archived {
				path = cfg.ArchivePath
			}
			r, err := roster.Read(path)
			if err != nil {
				return err
			}
			entries := append([]roster.Entry(nil), r.Entries...)
			sort.Slice(entries, func(i, j int) bool { return entries[i].Priority < entries[j].Priority })
			for _, e := range entries {
				fmt.Println(e.Serialize())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "List the archive roster instead of the active one")
	return cmd
}

// rosterEntryFlags are shared by add/update: they compose one roster line
// which is then handed to roster.Parse, the same parser that owns the
// line format, rather than duplicating flag-to-Entry mapping here.
type rosterEntryFlags struct {
	priority   int
	filesOnly  bool
	dbOnly     bool
	noRotate   bool
	dbInterval string
	notify     string
	notifyOK   bool
}

func (f *rosterEntryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.priority, "priority", 0, "Priority 1-999, lower runs earlier (default 10)")
	cmd.Flags().BoolVar(&f.filesOnly, "files-only", false, "Back up files only, skip database dump")
	cmd.Flags().BoolVar(&f.dbOnly, "db-only", false, "Back up the database only, skip files")
	cmd.Flags().BoolVar(&f.noRotate, "no-rotate", false, "Disable retention rotation for this host")
	cmd.Flags().StringVar(&f.dbInterval, "db-interval", "", "Interval database backup cadence, e.g. 4h")
	cmd.Flags().StringVar(&f.notify, "notify", "", "Override notification email for this host")
	cmd.Flags().BoolVar(&f.notifyOK, "notify-ok", false, "Send success notifications even when globally suppressed")
}

func (f *rosterEntryFlags) line(hostname string) string {
	var b strings.Builder
	b.WriteString(hostname)
	if f.filesOnly {
		b.WriteString(" --files-only")
	}
	if f.dbOnly {
		b.WriteString(" --db-only")
	}
	if f.noRotate {
		b.WriteString(" --no-rotate")
	}
	if f.priority != 0 {
		fmt.Fprintf(&b, " --priority %d", f.priority)
	}
	if f.dbInterval != "" {
		fmt.Fprintf(&b, " --db-interval %s", f.dbInterval)
	}
	if f.notify != "" {
		fmt.Fprintf(&b, " --notify %s", f.notify)
	}
	if f.notifyOK {
		b.WriteString(" --notify-ok")
	}
	return b.String()
}

func newRosterAddCmd(envPath *string) *cobra.Command {
	flags := &rosterEntryFlags{}
	cmd := &cobra.Command{
		Use:   "add <hostname>",
		Short: "Append a host to the active roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			entry, err := roster.Parse(flags.line(args[0]))
			if err != nil {
				return err
			}
			if err := roster.Append(cfg.RosterPath, entry); err != nil {
				return err
			}
			fmt.Printf("added %s\n", args[0])
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRosterUpdateCmd(envPath *string) *cobra.Command {
	flags := &rosterEntryFlags{}
	cmd := &cobra.Command{
		Use:   "update <hostname>",
		Short: "Replace a host's roster entry in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			entry, err := roster.Parse(flags.line(args[0]))
			if err != nil {
				return err
			}
			if err := roster.Update(cfg.RosterPath, entry); err != nil {
				return err
			}
			fmt.Printf("updated %s\n", args[0])
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRosterRemoveCmd(envPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <hostname>",
		Short: "Remove a host from the active roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			if err := roster.Remove(cfg.RosterPath, args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func newRosterArchiveCmd(envPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <hostname>",
		Short: "Move a host from the active roster to the archive roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			if err := roster.Archive(cfg.RosterPath, cfg.ArchivePath, args[0]); err != nil {
				return err
			}
			fmt.Printf("archived %s\n", args[0])
			return nil
		},
	}
}

func newRosterUnarchiveCmd(envPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unarchive <hostname>",
		Short: "Move a host from the archive roster back to the active roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			if err := roster.Unarchive(cfg.RosterPath, cfg.ArchivePath, args[0]); err != nil {
				return err
			}
			fmt.Printf("unarchived %s\n", args[0])
			return nil
		},
	}
}

func newExcludesCmd(envPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "excludes",
		Short: "Manage global and per-host rsync exclude lists",
	}
	cmd.AddCommand(newExcludesGetCmd(envPath))
	cmd.AddCommand(newExcludesSetCmd(envPath))
	return cmd
}

func newExcludesGetCmd(envPath *string) *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print an exclude list (global, or --host's)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			path := roster.GlobalExcludePath(cfg.RunDir)
			if host != "" {
				path = roster.HostExcludePath(cfg.RunDir, host)
			}
			lines, err := roster.ReadExcludeFile(path)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Println(l)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Operate on this host's exclude list instead of the global one")
	return cmd
}

func newExcludesSetCmd(envPath *string) *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace an exclude list from stdin, one pattern per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			path := roster.GlobalExcludePath(cfg.RunDir)
			if host != "" {
				path = roster.HostExcludePath(cfg.RunDir, host)
			}
			content, err := readAllStdin(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := roster.WriteExcludeFile(path, content); err != nil {
				return err
			}
			fmt.Println("excludes updated")
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Operate on this host's exclude list instead of the global one")
	return cmd
}

func readAllStdin(r io.Reader) (string, error) {
	var b strings.Builder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		b.WriteString(sc.Text())
		b.WriteString("\n")
	}
	return b.String(), sc.Err()
}

func newConfigCmd(envPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or rewrite tmserviced.env settings",
	}
	cmd.AddCommand(newConfigGetCmd(envPath))
	cmd.AddCommand(newConfigSetCmd(envPath))
	return cmd
}

func newConfigGetCmd(envPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print one setting, or every setting with no argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			all := cfg.AsMap()
			if len(args) == 1 {
				v, ok := all[args[0]]
				if !ok {
					return fmt.Errorf("unknown config key %q", args[0])
				}
				fmt.Println(v)
				return nil
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s=%s\n", k, all[k])
			}
			return nil
		},
	}
}

func newConfigSetCmd(envPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Rewrite one setting, validating the result before saving",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			vals := cfg.AsMap()
			if _, ok := vals[args[0]]; !ok {
				return fmt.Errorf("unknown config key %q", args[0])
			}
			vals[args[0]] = args[1]
			if err := config.WriteEnvFile(*envPath, vals); err != nil {
				return err
			}
			if _, err := config.Load(*envPath); err != nil {
				return fmt.Errorf("wrote %s but the result is invalid, revert manually: %w", *envPath, err)
			}
			fmt.Printf("%s=%s\n", args[0], args[1])
			return nil
		},
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

