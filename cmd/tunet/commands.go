package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tunet/internal/codec"
	"tunet/internal/config"
	"tunet/internal/credential"
	"tunet/internal/domain"
	"tunet/internal/session"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Account.Username = a.cfg.Account.Username
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n%s\n", path, cfg.Summary())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the stored account",
	}

	setCmd := &cobra.Command{
		Use:   "set <username>",
		Short: "Store the account password (read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			repo, err := a.openRepo()
			if err != nil {
				return err
			}
			creds := credential.Credentials{Username: username, Password: password}
			if err := credential.NewStore(repo).Save(cmd.Context(), creds); err != nil {
				return err
			}

			if a.cfg.Account.Username != username {
				a.cfg.Account.Username = username
				path := a.configPath
				if path == "" {
					path = config.DefaultConfigPath()
				}
				if err := a.cfg.Save(path); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored password for %s\n", username)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the stored password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openRepo()
			if err != nil {
				return err
			}
			return credential.NewStore(repo).Clear(cmd.Context())
		},
	}

	cmd.AddCommand(setCmd, clearCmd)
	return cmd
}

// readPassword takes the first line of r
func readPassword(r io.Reader, prompt io.Writer) (string, error) {
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprint(prompt, "Password: ")
		}
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}

func newLoginCmd(a *app) *cobra.Command {
	var checkLink, refresh bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log on to the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := a.newSession(ctx, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			opts := session.LogOnOptions{CheckLink: checkLink || a.cfg.Account.CheckLink}
			if err := sess.LogOn(ctx, opts); err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is online\n", sess.Username())

			if !refresh {
				return nil
			}
			if _, err := sess.Refresh(ctx); err != nil {
				return explain(err)
			}
			if err := sess.SaveCache(ctx); err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), sess.Status())
		},
	}
	cmd.Flags().BoolVar(&checkLink, "check-link", false, "skip logon when the internet is already reachable")
	cmd.Flags().BoolVar(&refresh, "refresh", true, "show balance and devices after logging on")
	return cmd
}

// withSession loads a session and its cache, refreshing unless offline
func withSession(cmd *cobra.Command, a *app, offline bool, fn func(ctx context.Context, sess *session.Session) error) error {
	ctx := cmd.Context()
	sess, err := a.newSession(ctx, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.LoadCache(ctx); err != nil {
		return err
	}
	if !offline {
		if _, err := sess.Refresh(ctx); err != nil {
			return explain(err)
		}
		if err := sess.SaveCache(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, sess)
}

func newStatusCmd(a *app) *cobra.Command {
	var offline bool
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show balance, traffic and online devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, a, offline, func(_ context.Context, sess *session.Session) error {
				if output != "" {
					return export(cmd.OutOrStdout(), output, sess.Status())
				}
				return printStatus(cmd.OutOrStdout(), sess.Status())
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "show the cached state without contacting the portal")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output format: "+strings.Join(codec.Formats(), ", "))
	return cmd
}

func newDevicesCmd(a *app) *cobra.Command {
	var offline bool
	var output string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices online under the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, a, offline, func(_ context.Context, sess *session.Session) error {
				st := sess.Status()
				if output != "" {
					return export(cmd.OutOrStdout(), output, st.Devices)
				}
				return printDevices(cmd.OutOrStdout(), st.Devices)
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "show the cached list without contacting the portal")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output format: "+strings.Join(codec.Formats(), ", "))
	return cmd
}

func newDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <ip|mac>",
		Short: "Force a device offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, a, false, func(ctx context.Context, sess *session.Session) error {
				matches := sess.FindDevice(args[0])
				switch len(matches) {
				case 0:
					return fmt.Errorf("no online device matches %s", args[0])
				case 1:
				default:
					return fmt.Errorf("%s matches %d devices; use the MAC address", args[0], len(matches))
				}

				device := matches[0]
				dropped, err := device.Drop(ctx)
				if err != nil {
					return err
				}
				if !dropped {
					return fmt.Errorf("portal did not confirm dropping %s", device.Name())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s (%s)\n", device.Name(), device.IP())
				return nil
			})
		},
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <mac> <name>",
		Short: "Set a device's display name (empty name clears it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mac, err := domain.ParseMac(args[0])
			if err != nil {
				return err
			}
			repo, err := a.openRepo()
			if err != nil {
				return err
			}

			names := session.NewNameBook(repo)
			if err := names.Load(cmd.Context()); err != nil {
				return err
			}
			if err := names.Set(cmd.Context(), mac, args[1]); err != nil {
				return err
			}
			if name, ok := names.Lookup(mac); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %q\n", mac, name)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared name for %s\n", mac)
			}
			return nil
		},
	}
}

// explain adds a hint for failures the user can fix
func explain(err error) error {
	switch {
	case session.NeedsCredentials(err):
		return fmt.Errorf("%w (run \"tunet account set <username>\" to update the account)", err)
	case session.KindOf(err) == session.KindConnect:
		return fmt.Errorf("%w (is the campus network reachable?)", err)
	default:
		return err
	}
}

func printStatus(w io.Writer, st session.Status) error {
	online := "offline"
	if st.IsOnline {
		online = "online"
	}
	updated := "never"
	if !st.UpdateTime.IsZero() {
		updated = st.UpdateTime.Local().Format(time.DateTime)
	}

	fmt.Fprintf(w, "Account:  %s (%s)\n", st.Username, online)
	fmt.Fprintf(w, "Balance:  %s\n", st.Balance.StringFixed(2))
	fmt.Fprintf(w, "Traffic:  %s (including online devices: %s)\n", st.WebTraffic, st.ExactTraffic)
	fmt.Fprintf(w, "Updated:  %s\n\n", updated)
	return printDevices(w, st.Devices)
}

func printDevices(w io.Writer, devices []session.DeviceInfo) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices online")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tIP\tMAC\tTRAFFIC\tSINCE\tFAMILY")
	for _, d := range devices {
		mac := d.MAC.String()
		if d.MAC.IsUnknown() {
			mac = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Name, d.IP, mac, d.Traffic, d.LogOnTime.Format(time.DateTime), d.Family)
	}
	return tw.Flush()
}

func export(w io.Writer, format string, v interface{}) error {
	e, err := codec.ForFormat(format)
	if err != nil {
		return err
	}
	return e.Export(v, w)
}
