package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maruel/recstore/internal/recstore"
)

var errNoMatch = errors.New("no matching record")

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the record file if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", s.Manager().Path(), s.Count())
			return nil
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	var c Contact
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			created, err := s.Create(c)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				slog.Warn("Contact already exists, skipped", "email", c.Email)
				return nil
			}
			return printRecords(cmd.OutOrStdout(), created)
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.Name, "name", "", "Display name")
	f.StringVar(&c.Email, "email", "", "Email address")
	f.IntVar(&c.Age, "age", 0, "Age in years")
	f.StringArrayVar(&c.Tags, "tag", nil, "Label, can be repeated")
	return cmd
}

func (a *app) lsCmd() *cobra.Command {
	var where []string
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			if asYAML {
				if len(where) != 0 {
					return errors.New("--yaml exports the whole file and cannot be combined with --where")
				}
				return s.WriteYAML(cmd.OutOrStdout())
			}
			filters, err := parseAssignments(s.Schema(), where)
			if err != nil {
				return err
			}
			records, err := s.Filter(filters...)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter as name=value, can be repeated")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Export the whole document as YAML")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var where []string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the first contact matching the filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			filters, err := parseAssignments(s.Schema(), where)
			if err != nil {
				return err
			}
			r, ok, err := s.Get(filters...)
			if err != nil {
				return err
			}
			if !ok {
				return errNoMatch
			}
			return printRecords(cmd.OutOrStdout(), []recstore.Record[Contact]{r})
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter as name=value, can be repeated")
	return cmd
}

func (a *app) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.Count())
			return nil
		},
	}
}

func (a *app) updateCmd() *cobra.Command {
	var where, set []string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the first contact matching the filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(set) == 0 {
				return errors.New("at least one --set is required")
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			filters, err := parseAssignments(s.Schema(), where)
			if err != nil {
				return err
			}
			updates, err := parseAssignments(s.Schema(), set)
			if err != nil {
				return err
			}
			r, ok, err := s.Get(filters...)
			if err != nil {
				return err
			}
			if !ok {
				return errNoMatch
			}
			updated, err := s.Update(r.Data, updates...)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), []recstore.Record[Contact]{updated})
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter as name=value, can be repeated")
	cmd.Flags().StringArrayVar(&set, "set", nil, "Assignment as name=value, can be repeated")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	var where []string
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Remove the first contact matching the filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(where) == 0 {
				return errors.New("at least one --where is required; use clear to remove everything")
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			filters, err := parseAssignments(s.Schema(), where)
			if err != nil {
				return err
			}
			removed, err := s.Delete(filters...)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				return errNoMatch
			}
			return printRecords(cmd.OutOrStdout(), removed)
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter as name=value, can be repeated")
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every contact, keeping the file metadata",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			return s.Clear()
		},
	}
}

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of a contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(s.Schema().JSONSchema(), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
			return err
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reload and report whenever the record file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
			defer stop()
			done, err := s.Manager().Watch(ctx, func(err error) {
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", s.Manager().Path(), s.Count())
				}
			})
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "Watching", "path", s.Manager().Path())
			<-done
			return nil
		},
	}
}

func (a *app) dropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Delete the record file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			return s.Manager().Delete()
		},
	}
}

func printRecords(w io.Writer, records []recstore.Record[Contact]) error {
	for _, r := range records {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\n", r.ID, data); err != nil {
			return err
		}
	}
	return nil
}
